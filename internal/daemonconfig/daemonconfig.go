// Package daemonconfig loads the process-wide settings of the pimsyncd
// daemon (listen address, logging, storage paths, optional Redis-backed
// admin-data cache). It is distinct from internal/peerconfig, which models
// the per-peer Source/Config tree that spec.md §3 describes — that tree is
// pimsyncd's own domain data, not something Viper/YAML-at-the-process-level
// owns.
package daemonconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon-level configuration, loaded once at startup.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	App     AppConfig     `mapstructure:"app"`
}

// ServerConfig controls the bus HTTP+websocket listener (spec.md §6).
type ServerConfig struct {
	Host                    string        `mapstructure:"host"`
	Port                    int           `mapstructure:"port"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// LogConfig configures internal/applog.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// StoreConfig locates the daemon's persisted state (spec.md §6 Persisted state).
type StoreConfig struct {
	// RootDir is the base directory holding the per-peer config tree,
	// change-tracking nodes and backup directories.
	RootDir string `mapstructure:"root_dir"`

	// ReportsDBPath is the SQLite file backing GetReports.
	ReportsDBPath string `mapstructure:"reports_db_path"`
}

// RedisConfig is optional; when Addr is empty the admin-data blob
// (component D's load_admin_data/save_admin_data) is kept on disk only.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// MetricsConfig controls Prometheus exposure.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AppConfig carries identity/runtime flags.
type AppConfig struct {
	Name                  string        `mapstructure:"name"`
	SessionGraceDuration  time.Duration `mapstructure:"session_grace_duration"`
	ShutdownQuiescence    time.Duration `mapstructure:"shutdown_quiescence"`
	InfoRequestTimeout    time.Duration `mapstructure:"info_request_timeout"`
}

// Load reads configuration from configPath (if non-empty) and environment
// variables, applying defaults first.
func Load(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8420)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.graceful_shutdown_timeout", "15s")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("store.root_dir", "/var/lib/pimsyncd")
	viper.SetDefault("store.reports_db_path", "/var/lib/pimsyncd/reports.db")

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.min_retry_backoff", "100ms")
	viper.SetDefault("redis.max_retry_backoff", "500ms")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("app.name", "pimsyncd")
	viper.SetDefault("app.session_grace_duration", "60s")
	viper.SetDefault("app.shutdown_quiescence", "10s")
	viper.SetDefault("app.info_request_timeout", "120s")
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Store.RootDir == "" {
		return fmt.Errorf("store root_dir cannot be empty")
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	return nil
}

// UsesRedis reports whether an admin-data Redis backend was configured.
func (c *Config) UsesRedis() bool {
	return c.Redis.Addr != ""
}
