package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoAPIKey is returned when no API key was configured.
	ErrNoAPIKey = errors.New("no API key: set BUNGIE_API_KEY, api_key in the config file, or --api-key")

	// ErrNoBaseURL is returned when the API base URL is empty.
	ErrNoBaseURL = errors.New("no API base URL configured")

	// ErrInvalidBudget is returned when the per-run source budget is not positive.
	ErrInvalidBudget = errors.New("invalid budget: must be positive")

	// ErrInvalidRate is returned when the bucket capacity or refill rate is not positive.
	ErrInvalidRate = errors.New("invalid rate limit: capacity and rate must be positive")

	// ErrInvalidPollInterval is returned when the bucket poll interval is not positive.
	ErrInvalidPollInterval = errors.New("invalid poll interval: must be positive")

	// ErrInvalidConcurrency is returned when the fan-out limit is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidTimeout is returned when the request timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidRetryDelay is returned when the retry delay is negative.
	ErrInvalidRetryDelay = errors.New("invalid retry delay: must be non-negative")

	// ErrNoArchiveDir is returned when the archive is enabled without a directory.
	ErrNoArchiveDir = errors.New("archive enabled but no archive directory configured")

	// ErrInvalidArchiveSize is returned when archive buffer or chunk sizes are not positive.
	ErrInvalidArchiveSize = errors.New("invalid archive size: buffer and max rows must be positive")

	// ErrIncompleteSeed is returned when a configured seed misses part of its identity.
	ErrIncompleteSeed = errors.New("seed requires membership_id, membership_type and character_id")
)
