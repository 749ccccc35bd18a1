package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// TASKWATCH_ANALYSIS_BASE_URL.
const EnvPrefix = "TASKWATCH"

// Load configuration from environment variables and optionally a config file
// named config.{yaml,json,toml} in the working directory or ./config.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs struct-tag validation on cfg.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Every key gets a default, even an empty one, so AutomaticEnv can see it
// during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("analysis.base_url", "")
	v.SetDefault("analysis.auth_token", "")
	v.SetDefault("analysis.signing_secret", "")
	v.SetDefault("analysis.service_subject", "taskwatch")
	v.SetDefault("analysis.request_timeout", 15*time.Second)

	v.SetDefault("polling.initial_interval", 2*time.Second)
	v.SetDefault("polling.medium_interval", 3*time.Second)
	v.SetDefault("polling.slow_interval", 5*time.Second)
	v.SetDefault("polling.medium_after", 10)
	v.SetDefault("polling.slow_after", 30)
	v.SetDefault("polling.max_iterations", 150)

	v.SetDefault("database.url", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "taskwatch:outcomes")
}
