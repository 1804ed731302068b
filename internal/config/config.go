package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server Server `mapstructure:"server" validate:"required"`
	Remote Remote `mapstructure:"remote" validate:"required"`
	Jobs   Jobs   `mapstructure:"jobs"   validate:"required"`
	Auth   Auth   `mapstructure:"auth"`
}

// Server contains process-level settings.
type Server struct {
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// Remote contains settings for reaching the analysis job service.
type Remote struct {
	// BaseURL is the root of the job service API, e.g. https://api.example.com.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	// RequestTimeout bounds a single HTTP round trip. It does not bound
	// the overall polling loop; that is governed by Jobs.MaxPollAttempts.
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required"`
}

// Jobs contains settings for the polling loop and the local job cache.
type Jobs struct {
	// PollInterval is the fixed delay between successive polls of one job.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required"`

	// MaxPollAttempts bounds how many polls (including transient network
	// failures) a single job gets before the poller gives up with a
	// timeout. The remote job keeps running and may be recovered later.
	MaxPollAttempts int `mapstructure:"max_poll_attempts" validate:"required,gt=0"`

	// CacheRetention is how long a cached job record is kept before
	// read-time pruning discards it.
	CacheRetention time.Duration `mapstructure:"cache_retention" validate:"required"`

	// DataDir is the directory holding all durable local state: the guest
	// identifier, the job record cache, and stored results.
	DataDir string `mapstructure:"data_dir" validate:"required"`
}

// Auth contains settings for accepting authenticated sessions. JWTSecret is
// only required when the application needs to accept access tokens; a
// guest-only deployment may leave it empty.
type Auth struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
}
