// Package config loads and validates the stope backend configuration from
// a YAML file, STOPE_* environment variables, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the top-level configuration struct for stope.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	DataDir       string              `mapstructure:"data_dir"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Watcher       WatcherConfig       `mapstructure:"watcher"`
	Locks         LocksConfig         `mapstructure:"locks"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// EngineConfig holds task engine knobs.
type EngineConfig struct {
	Workers        int    `mapstructure:"workers"`
	QueueSize      int    `mapstructure:"queue_size"`
	TaskLogSize    string `mapstructure:"task_log_size"`
	TaskLogBackups int    `mapstructure:"task_log_backups"`
}

// CacheConfig holds per-project cache policies.
type CacheConfig struct {
	TTL              time.Duration `mapstructure:"ttl"`
	WorkspaceEntries int           `mapstructure:"workspace_entries"`
	ModelEntries     int           `mapstructure:"model_entries"`
	VectorEntries    int           `mapstructure:"vector_entries"`
}

// WatcherConfig holds filesystem watcher settings.
type WatcherConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// LocksConfig holds lock manager settings.
type LocksConfig struct {
	// HTTPTimeout bounds lock acquisition on interactive request paths.
	// Background workers wait indefinitely.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// ObservabilityConfig holds telemetry and logging settings.
type ObservabilityConfig struct {
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool    `mapstructure:"otlp_insecure"`
	OTLPHeaders    string  `mapstructure:"otlp_headers"`
	PrometheusAddr string  `mapstructure:"prometheus_addr"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	LogLevel       string  `mapstructure:"log_level"`
	LogFormat      string  `mapstructure:"log_format"`
	Environment    string  `mapstructure:"environment"`
}

// Log format values.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// bytesPerMB converts parsed byte sizes to the whole-megabyte unit the
// log rotation sink expects.
const bytesPerMB = 1 << 20

// Sentinel errors for configuration validation.
var (
	// ErrInvalidDataDir indicates the data directory is empty.
	ErrInvalidDataDir = errors.New("data_dir must not be empty")
	// ErrInvalidWorkers indicates the workers value is negative.
	ErrInvalidWorkers = errors.New("engine.workers must be non-negative")
	// ErrInvalidQueueSize indicates the queue size is negative.
	ErrInvalidQueueSize = errors.New("engine.queue_size must be non-negative")
	// ErrInvalidTaskLogSize indicates the task log size is not a byte size.
	ErrInvalidTaskLogSize = errors.New("engine.task_log_size must be a byte size like \"5 MiB\"")
	// ErrInvalidTaskLogBackups indicates the backup count is negative.
	ErrInvalidTaskLogBackups = errors.New("engine.task_log_backups must be non-negative")
	// ErrInvalidCacheTTL indicates the cache TTL is negative.
	ErrInvalidCacheTTL = errors.New("cache.ttl must be non-negative")
	// ErrInvalidCacheEntries indicates a cache entry bound is negative.
	ErrInvalidCacheEntries = errors.New("cache entry bounds must be non-negative")
	// ErrInvalidDebounce indicates the watcher debounce is negative.
	ErrInvalidDebounce = errors.New("watcher.debounce must be non-negative")
	// ErrInvalidHTTPTimeout indicates the lock timeout is negative.
	ErrInvalidHTTPTimeout = errors.New("locks.http_timeout must be non-negative")
	// ErrInvalidSampleRatio indicates the trace sample ratio is out of range.
	ErrInvalidSampleRatio = errors.New("observability.sample_ratio must be between 0 and 1")
	// ErrInvalidLogLevel indicates an unknown log level name.
	ErrInvalidLogLevel = errors.New("observability.log_level must be debug, info, warn, or error")
	// ErrInvalidLogFormat indicates an unknown log format name.
	ErrInvalidLogFormat = errors.New("observability.log_format must be text or json")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return ErrInvalidDataDir
	}

	engineErr := c.validateEngine()
	if engineErr != nil {
		return engineErr
	}

	cacheErr := c.validateCache()
	if cacheErr != nil {
		return cacheErr
	}

	return c.validateObservability()
}

func (c *Config) validateEngine() error {
	if c.Engine.Workers < 0 {
		return ErrInvalidWorkers
	}

	if c.Engine.QueueSize < 0 {
		return ErrInvalidQueueSize
	}

	if c.Engine.TaskLogSize != "" {
		_, err := humanize.ParseBytes(c.Engine.TaskLogSize)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidTaskLogSize, c.Engine.TaskLogSize)
		}
	}

	if c.Engine.TaskLogBackups < 0 {
		return ErrInvalidTaskLogBackups
	}

	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.TTL < 0 {
		return ErrInvalidCacheTTL
	}

	if c.Cache.WorkspaceEntries < 0 || c.Cache.ModelEntries < 0 || c.Cache.VectorEntries < 0 {
		return ErrInvalidCacheEntries
	}

	if c.Watcher.Debounce < 0 {
		return ErrInvalidDebounce
	}

	if c.Locks.HTTPTimeout < 0 {
		return ErrInvalidHTTPTimeout
	}

	return nil
}

func (c *Config) validateObservability() error {
	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		return ErrInvalidSampleRatio
	}

	_, levelErr := c.Observability.SlogLevel()
	if levelErr != nil {
		return levelErr
	}

	switch c.Observability.LogFormat {
	case LogFormatText, LogFormatJSON:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Observability.LogFormat)
	}
}

// TaskLogSizeMB parses the task log size into whole megabytes, rounding up
// so small configured sizes never become zero.
func (ec EngineConfig) TaskLogSizeMB() (int, error) {
	if ec.TaskLogSize == "" {
		return 0, nil
	}

	size, err := humanize.ParseBytes(ec.TaskLogSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTaskLogSize, ec.TaskLogSize)
	}

	mb := int((size + bytesPerMB - 1) / bytesPerMB)

	return mb, nil
}

// SlogLevel maps the configured level name to an slog.Level.
func (oc ObservabilityConfig) SlogLevel() (slog.Level, error) {
	switch oc.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, oc.LogLevel)
	}
}
