package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// The rate and window defaults reproduce the settings the crawler was tuned
// with against the live Bungie API.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "d2crawl"

	// DefaultBaseURL is the root of the Bungie platform API.
	DefaultBaseURL = "https://www.bungie.net/Platform"

	// DefaultFrom and DefaultTo bound the activity history window.
	// The window is half-open: activities at DefaultTo are excluded.
	DefaultFrom = "2022-01-01T00:00:00Z"
	DefaultTo   = "2025-01-01T00:00:00Z"

	// DefaultMode is AllPvP. Rumble matches in the history are discarded later.
	DefaultMode = 5

	// DefaultBudget is the number of sources processed per run.
	DefaultBudget = 500

	// DefaultRateCapacity and DefaultRatePerSecond size the token bucket.
	DefaultRateCapacity  = 20
	DefaultRatePerSecond = 20.0

	// DefaultPollInterval is how long a waiter sleeps on an empty bucket.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultConcurrency caps in-flight detail and stats fetches. The bucket
	// is the real throttle; this only bounds goroutines and sockets.
	DefaultConcurrency = 64

	// DefaultTimeout is the transport ceiling for a single request.
	// Bungie occasionally stalls large history pages for minutes.
	DefaultTimeout = 3 * time.Hour

	// DefaultRetryDelay is the fixed wait before retrying a transient fault.
	DefaultRetryDelay = time.Second

	// DefaultArchiveBuffer is the number of appended rows held before a merge.
	DefaultArchiveBuffer = 500

	// DefaultArchiveMaxRows is the row count at which a chunk is closed.
	DefaultArchiveMaxRows = 50000

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv = "BUNGIE_API_KEY"
)

// Config holds every option of a crawl. It is assembled from defaults, the
// YAML file, the environment and CLI flags, in that order of precedence.
type Config struct {
	// APIKey is sent as X-API-Key on every request.
	APIKey string

	// BaseURL is the Bungie platform root. Tests point it at a fake server.
	BaseURL string

	// From and To are the raw history window bounds in 2006-01-02T15:04:05Z
	// form. They are not validated here; a malformed bound makes every
	// history fetch of the run return nothing.
	From string
	To   string

	// Mode is the activity mode requested from the history endpoint.
	Mode int

	// Budget is the maximum number of sources processed in one run.
	Budget int

	// RateCapacity and RatePerSecond configure the token bucket.
	RateCapacity  int
	RatePerSecond float64
	PollInterval  time.Duration

	// Concurrency caps concurrent fan-out tasks.
	Concurrency int

	// Timeout is the per-request transport ceiling.
	Timeout time.Duration

	// RetryDelay is the wait between retries of a transient fault.
	RetryDelay time.Duration

	// DBDir holds d2crawl.db. Defaults to the XDG data directory.
	DBDir string

	// Archive configures the optional chunked export.
	Archive ArchiveConfig

	// Seeds are inserted as guardians before the crawl starts.
	Seeds []Seed

	// ConfigFilePath is the explicit configuration file, if any.
	ConfigFilePath string

	// MetricsAddr, when set, serves Prometheus metrics on that address.
	MetricsAddr string

	// Rewind resets the frontier cursor before crawling.
	Rewind bool

	// Verbose enables debug logging. LogJSON switches to JSON output.
	Verbose bool
	LogJSON bool
}

// ArchiveConfig configures the chunked archive sink.
type ArchiveConfig struct {
	Enabled   bool
	Dir       string
	MaxBuffer int
	MaxRows   int
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		BaseURL:       DefaultBaseURL,
		From:          DefaultFrom,
		To:            DefaultTo,
		Mode:          DefaultMode,
		Budget:        DefaultBudget,
		RateCapacity:  DefaultRateCapacity,
		RatePerSecond: DefaultRatePerSecond,
		PollInterval:  DefaultPollInterval,
		Concurrency:   DefaultConcurrency,
		Timeout:       DefaultTimeout,
		RetryDelay:    DefaultRetryDelay,
		DBDir:         XDGDataDir(),
		Archive: ArchiveConfig{
			Dir:       filepath.Join(XDGDataDir(), "archive"),
			MaxBuffer: DefaultArchiveBuffer,
			MaxRows:   DefaultArchiveMaxRows,
		},
	}
}

// XDGDataDir returns the XDG data directory for d2crawl.
// On Linux: ~/.local/share/d2crawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for d2crawl.
// On Linux: ~/.config/d2crawl
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	if c.Budget <= 0 {
		return ErrInvalidBudget
	}
	if c.RateCapacity <= 0 || c.RatePerSecond <= 0 {
		return ErrInvalidRate
	}
	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.RetryDelay < 0 {
		return ErrInvalidRetryDelay
	}
	if c.Archive.Enabled {
		if c.Archive.Dir == "" {
			return ErrNoArchiveDir
		}
		if c.Archive.MaxBuffer <= 0 || c.Archive.MaxRows <= 0 {
			return ErrInvalidArchiveSize
		}
	}
	for _, s := range c.Seeds {
		if s.MembershipID == "" || s.MembershipType == "" || s.CharacterID == "" {
			return ErrIncompleteSeed
		}
	}
	return nil
}
