package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete daemon configuration
type Config struct {
	Monitor Monitor `mapstructure:"monitor"`
	Storage Storage `mapstructure:"storage"`
	Usage   Usage   `mapstructure:"usage_tracking"`
	Logging Logging `mapstructure:"logging"`
	Metrics Metrics `mapstructure:"metrics"`
}

// Monitor defines the foreground polling behavior
type Monitor struct {
	PollInterval      string `mapstructure:"poll_interval"`      // foreground evaluation tick
	RefreshInterval   string `mapstructure:"refresh_interval"`   // bulk refresh of all limits
	EvaluationTimeout string `mapstructure:"evaluation_timeout"` // per-evaluation storage/event budget
	ForegroundWindow  string `mapstructure:"foreground_window"`  // trailing window for foreground detection
	SelfPackage       string `mapstructure:"self_package"`       // never evaluated
	EventJournal      string `mapstructure:"event_journal"`      // NDJSON event hand-off file from the collector
}

// Storage defines storage backend settings
type Storage struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"` // bolt database file
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// Usage defines limit enforcement settings
type Usage struct {
	WarnThresholdMinutes []int  `mapstructure:"warn_threshold_minutes"` // remaining-minute marks that trigger warnings
	NotifyCooldown       string `mapstructure:"notify_cooldown"`        // minimum interval between repeated alerts per package
	RetentionDays        int    `mapstructure:"retention_days"`         // session/progress history retention
}

// Logging defines logging behavior
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Metrics defines the Prometheus endpoint settings
type Metrics struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("SCREENTIMED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if os.IsNotExist(err) {
				// Missing file is fine, run on defaults and environment
			} else {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Monitor defaults
	v.SetDefault("monitor.poll_interval", "5s")
	v.SetDefault("monitor.refresh_interval", "30s")
	v.SetDefault("monitor.evaluation_timeout", "5s")
	v.SetDefault("monitor.foreground_window", "60s")
	v.SetDefault("monitor.self_package", "com.zackwarn.screentimed")
	v.SetDefault("monitor.event_journal", "/var/lib/screentimed/events.ndjson")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/screentimed/screentimed.bolt")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Usage tracking defaults
	v.SetDefault("usage_tracking.warn_threshold_minutes", []int{5, 1})
	v.SetDefault("usage_tracking.notify_cooldown", "60s")
	v.SetDefault("usage_tracking.retention_days", 90)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
	v.SetDefault("metrics.port", 9090)
}

// validate validates the configuration
func validate(cfg *Config) error {
	for name, value := range map[string]string{
		"monitor.poll_interval":      cfg.Monitor.PollInterval,
		"monitor.refresh_interval":   cfg.Monitor.RefreshInterval,
		"monitor.evaluation_timeout": cfg.Monitor.EvaluationTimeout,
		"monitor.foreground_window":  cfg.Monitor.ForegroundWindow,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if cfg.Monitor.EventJournal == "" {
		return fmt.Errorf("monitor.event_journal is required")
	}

	if _, err := time.ParseDuration(cfg.Usage.NotifyCooldown); err != nil {
		return fmt.Errorf("invalid usage_tracking.notify_cooldown: %w", err)
	}

	for _, threshold := range cfg.Usage.WarnThresholdMinutes {
		if threshold <= 0 {
			return fmt.Errorf("warn thresholds must be positive, got %d", threshold)
		}
	}

	if cfg.Usage.RetentionDays <= 0 {
		return fmt.Errorf("usage_tracking.retention_days must be positive")
	}

	switch cfg.Storage.Type {
	case "", "bolt":
		cfg.Storage.Type = "bolt"
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	return nil
}
