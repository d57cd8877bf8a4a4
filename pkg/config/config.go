// Package config defines the service configuration and its viper-based loader.
package config

import "time"

// Config is the root configuration of the job queue service.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service" yaml:"service"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Management ManagementConfig `mapstructure:"management" yaml:"management"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Queue      QueueConfig      `mapstructure:"queue" yaml:"queue"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// HTTPConfig configures the public job API server.
type HTTPConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Port           int           `mapstructure:"port" yaml:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxRequestSize int64         `mapstructure:"max_request_size" yaml:"max_request_size"`
}

// ManagementConfig configures the health, metrics and version server.
type ManagementConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// RateLimitConfig bounds admissions of one job type per window.
type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit" yaml:"limit"`
	Window time.Duration `mapstructure:"window" yaml:"window"`
}

// QueueConfig configures admission and the dispatch loop.
type QueueConfig struct {
	AllowedTypes       []string                   `mapstructure:"allowed_types" yaml:"allowed_types"`
	Capacity           int                        `mapstructure:"capacity" yaml:"capacity"`
	RateLimits         map[string]RateLimitConfig `mapstructure:"rate_limits" yaml:"rate_limits"`
	DefaultRateLimit   RateLimitConfig            `mapstructure:"default_rate_limit" yaml:"default_rate_limit"`
	DefaultMaxAttempts int                        `mapstructure:"default_max_attempts" yaml:"default_max_attempts"`
	Concurrency        int                        `mapstructure:"concurrency" yaml:"concurrency"`
	PollInterval       time.Duration              `mapstructure:"poll_interval" yaml:"poll_interval"`
	ErrorBackoff       time.Duration              `mapstructure:"error_backoff" yaml:"error_backoff"`
	HandlerTimeout     time.Duration              `mapstructure:"handler_timeout" yaml:"handler_timeout"`
	StopTimeout        time.Duration              `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	InitialBackoff     time.Duration              `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff         time.Duration              `mapstructure:"max_backoff" yaml:"max_backoff"`
	// BacklogThreshold is the fraction of capacity at which health turns degraded.
	BacklogThreshold float64 `mapstructure:"backlog_threshold" yaml:"backlog_threshold"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "jobqueue",
			Environment: "production",
		},
		HTTP: HTTPConfig{
			Enabled:        true,
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxRequestSize: 1 << 20,
		},
		Management: ManagementConfig{
			Enabled:      true,
			Port:         9090,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Queue: QueueConfig{
			Capacity:           10000,
			DefaultMaxAttempts: 3,
			Concurrency:        1,
			PollInterval:       time.Second,
			ErrorBackoff:       5 * time.Second,
			HandlerTimeout:     30 * time.Second,
			StopTimeout:        10 * time.Second,
			InitialBackoff:     time.Second,
			MaxBackoff:         60 * time.Second,
			BacklogThreshold:   0.8,
		},
		Tracing: TracingConfig{
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "jobqueue",
		},
	}
}
