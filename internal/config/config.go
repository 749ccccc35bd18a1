package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Analysis AnalysisConfig `mapstructure:"analysis" validate:"required"`
	Polling  PollingConfig  `mapstructure:"polling" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// AnalysisConfig describes how to reach the external analysis backend.
type AnalysisConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	// AuthToken is sent verbatim as a bearer token when set.
	AuthToken string `mapstructure:"auth_token"`
	// SigningSecret is used to mint short-lived service tokens when no
	// static AuthToken is configured.
	SigningSecret  string        `mapstructure:"signing_secret" validate:"omitempty,min=32"`
	ServiceSubject string        `mapstructure:"service_subject" validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

// PollingConfig is the status poller's interval schedule and iteration cap.
type PollingConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gt=0"`
	MediumInterval  time.Duration `mapstructure:"medium_interval" validate:"gt=0"`
	SlowInterval    time.Duration `mapstructure:"slow_interval" validate:"gt=0"`
	MediumAfter     int           `mapstructure:"medium_after" validate:"gte=0"`
	SlowAfter       int           `mapstructure:"slow_after" validate:"gtefield=MediumAfter"`
	MaxIterations   int           `mapstructure:"max_iterations" validate:"gt=0"`
}

// DatabaseConfig contains database settings. An empty URL keeps task
// results in memory.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// RedisConfig enables the outcome bridge when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Channel  string `mapstructure:"channel" validate:"required_with=Addr"`
}
