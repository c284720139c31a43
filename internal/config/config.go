// Package config loads sitesync configuration with viper.
//
// SITESYNC_* environment variables override the config file, which overrides
// defaults. Settings are validated on load to fail fast on misconfiguration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mschirtzinger/sitesync/internal/logging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

// EnvPrefix prefixes every environment variable, e.g. SITESYNC_SYNC_SITE_ID.
const EnvPrefix = "SITESYNC"

// Config holds all sitesync configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Log       LogConfig       `mapstructure:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Lock      LockConfig      `mapstructure:"lock"`
}

// DatabaseConfig selects and tunes the site database.
type DatabaseConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend         string        `mapstructure:"backend"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// SyncConfig controls integration runs.
type SyncConfig struct {
	// SiteID is this site's id in the sync network.
	SiteID       int32 `mapstructure:"site_id"`
	ProgressStep int   `mapstructure:"progress_step"`
	// BatchTransaction defaults to true for sqlite and false for postgres.
	BatchTransaction bool `mapstructure:"batch_transaction"`
	// BatchSize caps records per run; 0 means all pending.
	BatchSize int `mapstructure:"batch_size"`
	// InboxDir is watched for batch files by the daemon.
	InboxDir string        `mapstructure:"inbox_dir"`
	Interval time.Duration `mapstructure:"interval"`
	Debounce time.Duration `mapstructure:"debounce"`
	// PushLimit caps records per push.
	PushLimit int `mapstructure:"push_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DashboardConfig configures the progress dashboard.
type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LockConfig configures the run lock. An empty RedisAddr uses an
// in-process lock.
type LockConfig struct {
	Name          string        `mapstructure:"name"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.backend", string(storage.BackendSQLite))
	v.SetDefault("database.path", ".sitesync/site.db")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.busy_timeout", "5s")

	v.SetDefault("sync.site_id", 0)
	v.SetDefault("sync.progress_step", 100)
	// No default: unset means "on for sqlite", resolved after decoding.
	_ = v.BindEnv("sync.batch_transaction")
	v.SetDefault("sync.batch_size", 0)
	v.SetDefault("sync.inbox_dir", ".sitesync/inbox")
	v.SetDefault("sync.interval", "1m")
	v.SetDefault("sync.debounce", "500ms")
	v.SetDefault("sync.push_limit", 1000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.addr", "127.0.0.1:8090")

	v.SetDefault("lock.name", "integrate")
	v.SetDefault("lock.ttl", "10m")
	v.SetDefault("lock.redis_addr", "")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
}

// Load reads configuration. With an empty path, sitesync.yaml (or .toml,
// .json) is looked up in the working directory and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("sitesync")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if !v.IsSet("sync.batch_transaction") {
		backend, _ := storage.ParseBackend(cfg.Database.Backend)
		cfg.Sync.BatchTransaction = backend == storage.BackendSQLite
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	backend, err := storage.ParseBackend(c.Database.Backend)
	switch {
	case err != nil:
		errs = append(errs, err.Error())
	case backend == storage.BackendSQLite && c.Database.Path == "":
		errs = append(errs, "database.path is required for sqlite")
	case backend == storage.BackendPostgres && c.Database.URL == "":
		errs = append(errs, "database.url is required for postgres")
	}
	if c.Database.MaxOpenConns < 0 {
		errs = append(errs, "database.max_open_conns must be non-negative")
	}

	if c.Sync.SiteID < 0 {
		errs = append(errs, fmt.Sprintf("sync.site_id (%d) must be non-negative", c.Sync.SiteID))
	}
	if c.Sync.ProgressStep <= 0 {
		errs = append(errs, "sync.progress_step must be positive")
	}
	if c.Sync.BatchSize < 0 {
		errs = append(errs, "sync.batch_size must be non-negative")
	}
	if c.Sync.Interval < 0 {
		errs = append(errs, "sync.interval must be non-negative")
	}
	if c.Sync.PushLimit <= 0 {
		errs = append(errs, "sync.push_limit must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}

	if c.Dashboard.Enabled && c.Dashboard.Addr == "" {
		errs = append(errs, "dashboard.addr is required when the dashboard is enabled")
	}
	if c.Lock.TTL <= 0 {
		errs = append(errs, "lock.ttl must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Storage returns the database settings for storage.Open.
func (c *Config) Storage() storage.Config {
	backend, _ := storage.ParseBackend(c.Database.Backend)
	return storage.Config{
		Backend:         backend,
		Path:            c.Database.Path,
		URL:             c.Database.URL,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		BusyTimeout:     c.Database.BusyTimeout,
	}
}

// Logging returns the log settings for logging.Setup.
func (c *Config) Logging() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// SiteID returns the configured site id, or nil when unset.
func (c *Config) SiteID() *int32 {
	if c.Sync.SiteID == 0 {
		return nil
	}
	id := c.Sync.SiteID
	return &id
}

// String renders the configuration with secrets masked.
func (c *Config) String() string {
	url := c.Database.URL
	if url != "" {
		url = "***"
	}
	return fmt.Sprintf("backend=%s path=%s url=%s site_id=%d inbox=%s lock=%s",
		c.Database.Backend, c.Database.Path, url, c.Sync.SiteID, c.Sync.InboxDir, c.Lock.RedisAddr)
}
