package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader loads configuration with precedence flags > ENV > file > defaults.
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
	v          *viper.Viper
}

// NewViperLoader creates a loader. configFile may be empty; envPrefix
// defaults to JOBQUEUE.
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: strings.TrimSpace(configFile),
		envPrefix:  envPrefix,
	}
}

// WithFlags binds command line flags whose names match flagBindings.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// ConfigFile returns the configured file path, possibly empty.
func (l *ViperLoader) ConfigFile() string {
	return l.configFile
}

// flagBindings maps CLI flag names to configuration keys.
var flagBindings = map[string]string{
	"http-port":   "http.port",
	"mgmt-port":   "management.port",
	"log-level":   "log.level",
	"log-format":  "log.format",
	"concurrency": "queue.concurrency",
	"job-types":   "queue.allowed_types",
}

// Load reads, merges and validates the configuration.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	l.v = v

	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(l.prefix())
	if err := l.bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}
	if err := l.bindFlags(v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// AllSettings returns the merged settings of the last Load.
func (l *ViperLoader) AllSettings() map[string]any {
	if l.v == nil {
		return map[string]any{}
	}
	return l.v.AllSettings()
}

func (l *ViperLoader) bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"service.name":        "SERVICE_NAME",
		"service.environment": "SERVICE_ENVIRONMENT",

		"http.enabled":          "HTTP_ENABLED",
		"http.port":             "HTTP_PORT",
		"http.read_timeout":     "HTTP_READ_TIMEOUT",
		"http.write_timeout":    "HTTP_WRITE_TIMEOUT",
		"http.idle_timeout":     "HTTP_IDLE_TIMEOUT",
		"http.max_request_size": "HTTP_MAX_REQUEST_SIZE",

		"management.enabled":       "MGMT_ENABLED",
		"management.port":          "MGMT_PORT",
		"management.read_timeout":  "MGMT_READ_TIMEOUT",
		"management.write_timeout": "MGMT_WRITE_TIMEOUT",

		"log.level":  "LOG_LEVEL",
		"log.format": "LOG_FORMAT",

		"queue.allowed_types":             "QUEUE_ALLOWED_TYPES",
		"queue.capacity":                  "QUEUE_CAPACITY",
		"queue.default_rate_limit.limit":  "QUEUE_DEFAULT_RATE_LIMIT",
		"queue.default_rate_limit.window": "QUEUE_DEFAULT_RATE_WINDOW",
		"queue.default_max_attempts":      "QUEUE_DEFAULT_MAX_ATTEMPTS",
		"queue.concurrency":               "QUEUE_CONCURRENCY",
		"queue.poll_interval":             "QUEUE_POLL_INTERVAL",
		"queue.error_backoff":             "QUEUE_ERROR_BACKOFF",
		"queue.handler_timeout":           "QUEUE_HANDLER_TIMEOUT",
		"queue.stop_timeout":              "QUEUE_STOP_TIMEOUT",
		"queue.initial_backoff":           "QUEUE_INITIAL_BACKOFF",
		"queue.max_backoff":               "QUEUE_MAX_BACKOFF",
		"queue.backlog_threshold":         "QUEUE_BACKLOG_THRESHOLD",

		"tracing.enabled":     "TRACING_ENABLED",
		"tracing.endpoint":    "TRACING_ENDPOINT",
		"tracing.insecure":    "TRACING_INSECURE",
		"tracing.sample_rate": "TRACING_SAMPLE_RATE",

		"metrics.enabled":   "METRICS_ENABLED",
		"metrics.namespace": "METRICS_NAMESPACE",
	}
	for key, suffix := range bindings {
		if err := v.BindEnv(key, l.prefixedEnv(suffix)); err != nil {
			return err
		}
	}
	return nil
}

func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for name, key := range flagBindings {
		flag := l.flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

func (l *ViperLoader) prefix() string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "JOBQUEUE"
	}
	return strings.ToUpper(prefix)
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	return fmt.Sprintf("%s_%s", l.prefix(), suffix)
}

func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("http.enabled", cfg.HTTP.Enabled)
	v.SetDefault("http.port", cfg.HTTP.Port)
	v.SetDefault("http.read_timeout", cfg.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", cfg.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", cfg.HTTP.IdleTimeout)
	v.SetDefault("http.max_request_size", cfg.HTTP.MaxRequestSize)

	v.SetDefault("management.enabled", cfg.Management.Enabled)
	v.SetDefault("management.port", cfg.Management.Port)
	v.SetDefault("management.read_timeout", cfg.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", cfg.Management.WriteTimeout)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("queue.allowed_types", cfg.Queue.AllowedTypes)
	v.SetDefault("queue.capacity", cfg.Queue.Capacity)
	v.SetDefault("queue.default_rate_limit.limit", cfg.Queue.DefaultRateLimit.Limit)
	v.SetDefault("queue.default_rate_limit.window", cfg.Queue.DefaultRateLimit.Window)
	v.SetDefault("queue.default_max_attempts", cfg.Queue.DefaultMaxAttempts)
	v.SetDefault("queue.concurrency", cfg.Queue.Concurrency)
	v.SetDefault("queue.poll_interval", cfg.Queue.PollInterval)
	v.SetDefault("queue.error_backoff", cfg.Queue.ErrorBackoff)
	v.SetDefault("queue.handler_timeout", cfg.Queue.HandlerTimeout)
	v.SetDefault("queue.stop_timeout", cfg.Queue.StopTimeout)
	v.SetDefault("queue.initial_backoff", cfg.Queue.InitialBackoff)
	v.SetDefault("queue.max_backoff", cfg.Queue.MaxBackoff)
	v.SetDefault("queue.backlog_threshold", cfg.Queue.BacklogThreshold)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", cfg.Tracing.Insecure)
	v.SetDefault("tracing.sample_rate", cfg.Tracing.SampleRate)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)
}

// Validate normalizes cfg and reports every problem found.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.Queue.AllowedTypes = normalizeStringSlice(cfg.Queue.AllowedTypes)
	if len(cfg.Queue.AllowedTypes) == 0 {
		errs = append(errs, errors.New("queue.allowed_types must contain at least one job type"))
	}
	if cfg.Queue.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("queue.capacity must be > 0, got %d", cfg.Queue.Capacity))
	}
	if cfg.Queue.DefaultMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("queue.default_max_attempts must be >= 1, got %d", cfg.Queue.DefaultMaxAttempts))
	}
	if cfg.Queue.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("queue.concurrency must be >= 1, got %d", cfg.Queue.Concurrency))
	}
	if cfg.Queue.InitialBackoff > cfg.Queue.MaxBackoff {
		errs = append(errs, errors.New("queue.initial_backoff must not exceed queue.max_backoff"))
	}
	if cfg.Queue.BacklogThreshold <= 0 || cfg.Queue.BacklogThreshold > 1 {
		errs = append(errs, fmt.Errorf("queue.backlog_threshold must be in (0, 1], got %v", cfg.Queue.BacklogThreshold))
	}
	errs = append(errs, validateRateLimit("queue.default_rate_limit", cfg.Queue.DefaultRateLimit)...)
	for jobType, limit := range cfg.Queue.RateLimits {
		if !contains(cfg.Queue.AllowedTypes, jobType) {
			errs = append(errs, fmt.Errorf("queue.rate_limits.%s refers to a job type that is not allowed", jobType))
		}
		errs = append(errs, validateRateLimit("queue.rate_limits."+jobType, limit)...)
	}

	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		errs = append(errs, fmt.Errorf("invalid http.port: %d", cfg.HTTP.Port))
	}
	if cfg.Management.Enabled && (cfg.Management.Port <= 0 || cfg.Management.Port > 65535) {
		errs = append(errs, fmt.Errorf("invalid management.port: %d", cfg.Management.Port))
	}
	if cfg.HTTP.Enabled && cfg.Management.Enabled && cfg.HTTP.Port == cfg.Management.Port {
		errs = append(errs, errors.New("http.port and management.port must differ"))
	}

	validLevels := []string{"debug", "info", "warn", "warning", "error"}
	if !contains(validLevels, strings.ToLower(cfg.Log.Level)) {
		errs = append(errs, fmt.Errorf("invalid log.level: %s (must be one of: %v)", cfg.Log.Level, validLevels))
	}
	validFormats := []string{"json", "text", "console"}
	if !contains(validFormats, strings.ToLower(cfg.Log.Format)) {
		errs = append(errs, fmt.Errorf("invalid log.format: %s (must be one of: %v)", cfg.Log.Format, validFormats))
	}

	if cfg.Tracing.Enabled && strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", cfg.Tracing.SampleRate))
	}

	return errors.Join(errs...)
}

func validateRateLimit(key string, limit RateLimitConfig) []error {
	var errs []error
	if limit.Limit < 0 {
		errs = append(errs, fmt.Errorf("%s.limit must not be negative", key))
	}
	if limit.Limit > 0 && limit.Window <= 0 {
		errs = append(errs, fmt.Errorf("%s.window must be > 0 when a limit is set", key))
	}
	return errs
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// normalizeStringSlice removes empty strings and trims whitespace
func normalizeStringSlice(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
