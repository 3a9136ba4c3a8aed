package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Download DownloadConfig `mapstructure:"download"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	History  HistoryConfig  `mapstructure:"history"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DownloadConfig contains download engine settings
type DownloadConfig struct {
	// Dir is the destination directory. Empty means the platform
	// default Downloads folder.
	Dir                    string `mapstructure:"dir"`
	ChunkCount             int    `mapstructure:"chunk_count"`
	MaxRetries             int    `mapstructure:"max_retries"`
	RetryBackoff           string `mapstructure:"retry_backoff"`
	ProgressUpdateInterval string `mapstructure:"progress_update_interval"`
	RequestTimeout         string `mapstructure:"request_timeout"`
	RateLimitMBps          int    `mapstructure:"rate_limit_mbps"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	AllowedOrigin string `mapstructure:"allowed_origin"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
}

// HistoryConfig contains task history persistence settings
type HistoryConfig struct {
	// Path is the SQLite database path. Empty means a history.db file
	// inside the download directory.
	Path         string `mapstructure:"path"`
	SaveInterval string `mapstructure:"save_interval"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from the specified file path. An empty path
// runs on defaults alone.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("download.dir", "")
	v.SetDefault("download.chunk_count", 8)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.retry_backoff", "500ms")
	v.SetDefault("download.progress_update_interval", "500ms")
	v.SetDefault("download.request_timeout", "0")
	v.SetDefault("download.rate_limit_mbps", 0)
	v.SetDefault("http.bind_addr", "127.0.0.1:8077")
	v.SetDefault("http.allowed_origin", "*")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("history.path", "")
	v.SetDefault("history.save_interval", "5s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Download.ChunkCount < 1 || c.Download.ChunkCount > 64 {
		return fmt.Errorf("download.chunk_count must be between 1 and 64")
	}
	if c.Download.MaxRetries < 0 {
		return fmt.Errorf("download.max_retries must not be negative")
	}
	if c.Download.RateLimitMBps < 0 {
		return fmt.Errorf("download.rate_limit_mbps must not be negative")
	}

	durations := map[string]string{
		"download.retry_backoff":            c.Download.RetryBackoff,
		"download.progress_update_interval": c.Download.ProgressUpdateInterval,
		"download.request_timeout":          c.Download.RequestTimeout,
		"http.read_timeout":                 c.HTTP.ReadTimeout,
		"http.write_timeout":                c.HTTP.WriteTimeout,
		"http.idle_timeout":                 c.HTTP.IdleTimeout,
		"history.save_interval":             c.History.SaveInterval,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetRetryBackoff returns the retry backoff as time.Duration
func (c *DownloadConfig) GetRetryBackoff() time.Duration {
	d, _ := time.ParseDuration(c.RetryBackoff)
	if d == 0 {
		return 500 * time.Millisecond
	}
	return d
}

// GetProgressUpdateInterval returns the progress update interval as time.Duration
func (c *DownloadConfig) GetProgressUpdateInterval() time.Duration {
	d, _ := time.ParseDuration(c.ProgressUpdateInterval)
	if d == 0 {
		return 500 * time.Millisecond
	}
	return d
}

// GetRequestTimeout returns the per-request timeout, zero meaning none
func (c *DownloadConfig) GetRequestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.RequestTimeout)
	return d
}

// GetRateLimit returns the throughput cap in bytes per second, zero
// meaning unlimited
func (c *DownloadConfig) GetRateLimit() int64 {
	return int64(c.RateLimitMBps) * 1024 * 1024
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	if d == 0 {
		return 60 * time.Second
	}
	return d
}

// GetSaveInterval returns the history save interval as time.Duration
func (c *HistoryConfig) GetSaveInterval() time.Duration {
	d, _ := time.ParseDuration(c.SaveInterval)
	if d == 0 {
		return 5 * time.Second
	}
	return d
}
