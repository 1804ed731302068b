package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional pocketbrief.yaml file and from
// environment variables with the POCKETBRIEF_ prefix. Environment variables
// take precedence over values from the config file, which takes precedence
// over defaults. Returns a populated Config or an error if loading or
// validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("pocketbrief")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(filepath.Join("$HOME", ".config", "pocketbrief"))

	v.SetEnvPrefix("POCKETBRIEF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env and defaults still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Keys without a meaningful default still need to be registered so
	// AutomaticEnv picks them up during Unmarshal.
	v.SetDefault("remote.base_url", "")
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("server.log_level", "info")
	v.SetDefault("remote.request_timeout", 30*time.Second)
	v.SetDefault("jobs.poll_interval", 5*time.Second)
	v.SetDefault("jobs.max_poll_attempts", 120)
	v.SetDefault("jobs.cache_retention", 24*time.Hour)
	v.SetDefault("jobs.data_dir", defaultDataDir())
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pocketbrief"
	}
	return filepath.Join(home, ".pocketbrief")
}
