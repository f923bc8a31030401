// Package config provides configuration management for the lumen-sync
// upload engine. Configuration can be loaded from YAML files and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	API          APIConfig          `mapstructure:"api"`
	Database     DatabaseConfig     `mapstructure:"database"`
	LockBackend  LockBackendConfig  `mapstructure:"lock_backend"`
	Uploader     UploaderConfig     `mapstructure:"uploader"`
	DirectS3     DirectS3Config     `mapstructure:"direct_s3"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	StatusServer StatusServerConfig `mapstructure:"status_server"`
}

// APIConfig holds catalog service connection settings.
type APIConfig struct {
	// Endpoint is the base URL of the catalog service.
	Endpoint string `mapstructure:"endpoint"`

	// AuthToken is sent as X-Auth-Token on every request.
	AuthToken string `mapstructure:"auth_token"`

	// UserID is the account that owns uploaded records.
	UserID int64 `mapstructure:"user_id"`

	// RequestTimeout bounds individual catalog requests.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// MaxAttempts is the retry budget for catalog and blob operations.
	MaxAttempts int `mapstructure:"max_attempts"`

	// RetryBackoff is the fixed delay between catalog retry attempts.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// DatabaseConfig holds local files catalog settings (SQLite).
type DatabaseConfig struct {
	// Path is the SQLite database file shared by the foreground and
	// background processes. Use ":memory:" for tests.
	Path            string `mapstructure:"path"`
	JournalMode     string `mapstructure:"journal_mode"`
	BusyTimeout     int    `mapstructure:"busy_timeout"`
	CacheSize       int    `mapstructure:"cache_size"`
	SynchronousMode string `mapstructure:"synchronous_mode"`
}

// LockBackendConfig selects where per-file lock records live.
// "sqlite" shares the local database (default, two processes on one
// device), "postgres" and "redis" support daemon deployments where several
// hosts share one catalog.
type LockBackendConfig struct {
	Driver string `mapstructure:"driver"`

	// Postgres settings (used when Driver is "postgres").
	PostgresDSN string `mapstructure:"postgres_dsn"`

	// Redis settings (used when Driver is "redis").
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// UploaderConfig holds queue scheduler and worker settings.
type UploaderConfig struct {
	// TempDir is where encrypted temp artifacts are written.
	TempDir string `mapstructure:"temp_dir"`

	// MediaRoot is the directory local IDs resolve under.
	MediaRoot string `mapstructure:"media_root"`

	// ThumbnailRoot is where sidecar thumbnails are looked up.
	ThumbnailRoot string `mapstructure:"thumbnail_root"`

	// GlobalLimit caps concurrently in-progress uploads.
	GlobalLimit int `mapstructure:"global_limit"`

	// VideoLimit caps concurrently in-progress video uploads.
	VideoLimit int `mapstructure:"video_limit"`

	// UploadDeadline is the hard per-upload timeout.
	UploadDeadline time.Duration `mapstructure:"upload_deadline"`

	// LockExpiry is the staleness window for persisted lock records.
	LockExpiry time.Duration `mapstructure:"lock_expiry"`

	// BackgroundDeathTimeout is how long the background process may miss
	// its heartbeat before its locks are reclaimed at startup.
	BackgroundDeathTimeout time.Duration `mapstructure:"background_death_timeout"`

	// LiaisonInterval is how often the foreground polls locks held by the
	// background process.
	LiaisonInterval time.Duration `mapstructure:"liaison_interval"`

	// AllowMobileUploads permits uploads off Wi-Fi.
	AllowMobileUploads bool `mapstructure:"allow_mobile_uploads"`
}

// DirectS3Config enables local presigning against a self-hosted object
// store instead of fetching upload URLs from the catalog service.
type DirectS3Config struct {
	Enabled         bool          `mapstructure:"enabled"`
	Endpoint        string        `mapstructure:"endpoint"`
	Region          string        `mapstructure:"region"`
	Bucket          string        `mapstructure:"bucket"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	PresignExpiry   time.Duration `mapstructure:"presign_expiry"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// StatusServerConfig holds the local status/metrics HTTP server settings.
type StatusServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the status server address in host:port format.
func (c StatusServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with LUMEN_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("LUMEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/lumen-sync")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is acceptable - use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.endpoint", "https://api.lumen-sync.local")
	v.SetDefault("api.auth_token", "")
	v.SetDefault("api.user_id", 0)
	v.SetDefault("api.request_timeout", 60*time.Second)
	v.SetDefault("api.max_attempts", 4)
	v.SetDefault("api.retry_backoff", 3*time.Second)

	// Database defaults
	v.SetDefault("database.path", "./data/lumen.db")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)
	v.SetDefault("database.cache_size", -2000)
	v.SetDefault("database.synchronous_mode", "NORMAL")

	// Lock backend defaults
	v.SetDefault("lock_backend.driver", "sqlite")
	v.SetDefault("lock_backend.postgres_dsn", "")
	v.SetDefault("lock_backend.redis_addr", "localhost:6379")
	v.SetDefault("lock_backend.redis_password", "")
	v.SetDefault("lock_backend.redis_db", 0)

	// Uploader defaults
	v.SetDefault("uploader.temp_dir", "./data/temp")
	v.SetDefault("uploader.media_root", "./data/media")
	v.SetDefault("uploader.thumbnail_root", "./data/thumbnails")
	v.SetDefault("uploader.global_limit", 4)
	v.SetDefault("uploader.video_limit", 2)
	v.SetDefault("uploader.upload_deadline", 50*time.Minute)
	v.SetDefault("uploader.lock_expiry", 24*time.Hour)
	v.SetDefault("uploader.background_death_timeout", 5*time.Second)
	v.SetDefault("uploader.liaison_interval", 2*time.Second)
	v.SetDefault("uploader.allow_mobile_uploads", false)

	// Direct S3 defaults
	v.SetDefault("direct_s3.enabled", false)
	v.SetDefault("direct_s3.region", "us-east-1")
	v.SetDefault("direct_s3.presign_expiry", 15*time.Minute)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Status server defaults
	v.SetDefault("status_server.enabled", false)
	v.SetDefault("status_server.host", "127.0.0.1")
	v.SetDefault("status_server.port", 9123)
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	if c.API.Endpoint == "" && !c.DirectS3.Enabled {
		return fmt.Errorf("api.endpoint is required")
	}
	if c.API.MaxAttempts < 1 {
		return fmt.Errorf("api.max_attempts must be at least 1")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "redis": true}
	if !validDrivers[c.LockBackend.Driver] {
		return fmt.Errorf("lock_backend.driver must be 'sqlite', 'postgres' or 'redis'")
	}
	if c.LockBackend.Driver == "postgres" && c.LockBackend.PostgresDSN == "" {
		return fmt.Errorf("lock_backend.postgres_dsn is required for postgres driver")
	}

	if c.Uploader.GlobalLimit < 1 {
		return fmt.Errorf("uploader.global_limit must be at least 1")
	}
	if c.Uploader.VideoLimit < 1 || c.Uploader.VideoLimit > c.Uploader.GlobalLimit {
		return fmt.Errorf("uploader.video_limit must be between 1 and uploader.global_limit")
	}
	if c.Uploader.TempDir == "" {
		return fmt.Errorf("uploader.temp_dir is required")
	}

	if c.DirectS3.Enabled {
		if c.DirectS3.Bucket == "" {
			return fmt.Errorf("direct_s3.bucket is required when direct_s3 is enabled")
		}
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	if c.StatusServer.Enabled {
		if c.StatusServer.Port < 1 || c.StatusServer.Port > 65535 {
			return fmt.Errorf("status_server.port must be between 1 and 65535")
		}
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
