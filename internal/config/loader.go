package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".stope"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for stope settings.
const envPrefix = "STOPE"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Defaults applied before file and environment sources.
const (
	DefaultDataDir         = "./data"
	DefaultEngineWorkers   = 2
	DefaultEngineQueueSize = 64
	DefaultTaskLogSize     = "5 MiB"
	DefaultTaskLogBackups  = 2
	DefaultCacheTTL        = 5 * time.Minute
	DefaultWorkspaceCache  = 20
	DefaultModelCache      = 5
	DefaultVectorCache     = 5
	DefaultWatcherEnabled  = true
	DefaultWatcherDebounce = 200 * time.Millisecond
	DefaultLockHTTPTimeout = 5 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = LogFormatText
)

// Load loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func Load(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("data_dir", DefaultDataDir)

	viperCfg.SetDefault("engine.workers", DefaultEngineWorkers)
	viperCfg.SetDefault("engine.queue_size", DefaultEngineQueueSize)
	viperCfg.SetDefault("engine.task_log_size", DefaultTaskLogSize)
	viperCfg.SetDefault("engine.task_log_backups", DefaultTaskLogBackups)

	viperCfg.SetDefault("cache.ttl", DefaultCacheTTL)
	viperCfg.SetDefault("cache.workspace_entries", DefaultWorkspaceCache)
	viperCfg.SetDefault("cache.model_entries", DefaultModelCache)
	viperCfg.SetDefault("cache.vector_entries", DefaultVectorCache)

	viperCfg.SetDefault("watcher.enabled", DefaultWatcherEnabled)
	viperCfg.SetDefault("watcher.debounce", DefaultWatcherDebounce)

	viperCfg.SetDefault("locks.http_timeout", DefaultLockHTTPTimeout)

	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.otlp_insecure", false)
	viperCfg.SetDefault("observability.prometheus_addr", "")
	viperCfg.SetDefault("observability.sample_ratio", 0.0)
	viperCfg.SetDefault("observability.log_level", DefaultLogLevel)
	viperCfg.SetDefault("observability.log_format", DefaultLogFormat)
}
