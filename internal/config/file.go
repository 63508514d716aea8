package config

import "time"

// Seed is a guardian inserted into the store before crawling.
type Seed struct {
	MembershipID   string `yaml:"membership_id"`
	MembershipType string `yaml:"membership_type"`
	CharacterID    string `yaml:"character_id"`
	DisplayName    string `yaml:"display_name,omitempty"`
}

// WindowFile is the history window section of the configuration file.
type WindowFile struct {
	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`
}

// RateFile is the token bucket section of the configuration file.
type RateFile struct {
	Capacity     int           `yaml:"capacity,omitempty"`
	PerSecond    float64       `yaml:"per_second,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

// ArchiveFile is the archive section of the configuration file.
type ArchiveFile struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	Dir       string `yaml:"dir,omitempty"`
	MaxBuffer int    `yaml:"max_buffer,omitempty"`
	MaxRows   int    `yaml:"max_rows,omitempty"`
}

// File represents the structure of the .d2crawl.yaml configuration file.
// Zero values mean "not set" and leave the defaults in place.
type File struct {
	APIKey      string        `yaml:"api_key,omitempty"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	Window      WindowFile    `yaml:"window,omitempty"`
	Mode        int           `yaml:"mode,omitempty"`
	Budget      int           `yaml:"budget,omitempty"`
	Rate        RateFile      `yaml:"rate,omitempty"`
	Concurrency int           `yaml:"concurrency,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	RetryDelay  time.Duration `yaml:"retry_delay,omitempty"`
	DBDir       string        `yaml:"db_dir,omitempty"`
	Archive     ArchiveFile   `yaml:"archive,omitempty"`
	Seeds       []Seed        `yaml:"seeds,omitempty"`
}

// Apply copies every value set in the file onto cfg.
func (f *File) Apply(cfg *Config) {
	if f.APIKey != "" {
		cfg.APIKey = f.APIKey
	}
	if f.BaseURL != "" {
		cfg.BaseURL = f.BaseURL
	}
	if f.Window.From != "" {
		cfg.From = f.Window.From
	}
	if f.Window.To != "" {
		cfg.To = f.Window.To
	}
	if f.Mode != 0 {
		cfg.Mode = f.Mode
	}
	if f.Budget != 0 {
		cfg.Budget = f.Budget
	}
	if f.Rate.Capacity != 0 {
		cfg.RateCapacity = f.Rate.Capacity
	}
	if f.Rate.PerSecond != 0 {
		cfg.RatePerSecond = f.Rate.PerSecond
	}
	if f.Rate.PollInterval != 0 {
		cfg.PollInterval = f.Rate.PollInterval
	}
	if f.Concurrency != 0 {
		cfg.Concurrency = f.Concurrency
	}
	if f.Timeout != 0 {
		cfg.Timeout = f.Timeout
	}
	if f.RetryDelay != 0 {
		cfg.RetryDelay = f.RetryDelay
	}
	if f.DBDir != "" {
		cfg.DBDir = f.DBDir
	}
	if f.Archive.Enabled {
		cfg.Archive.Enabled = true
	}
	if f.Archive.Dir != "" {
		cfg.Archive.Dir = f.Archive.Dir
	}
	if f.Archive.MaxBuffer != 0 {
		cfg.Archive.MaxBuffer = f.Archive.MaxBuffer
	}
	if f.Archive.MaxRows != 0 {
		cfg.Archive.MaxRows = f.Archive.MaxRows
	}
	if len(f.Seeds) > 0 {
		cfg.Seeds = append(cfg.Seeds, f.Seeds...)
	}
}
