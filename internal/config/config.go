// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidMaxDownloadBytes is returned when MAX_DOWNLOAD_BYTES is not positive.
	ErrInvalidMaxDownloadBytes = errors.New("config: MAX_DOWNLOAD_BYTES must be positive")
	// ErrInvalidFetchRetries is returned when FETCH_MAX_RETRIES is negative.
	ErrInvalidFetchRetries = errors.New("config: FETCH_MAX_RETRIES must not be negative")
	// ErrInvalidFetchBackoff is returned when FETCH_BACKOFF_MS is not positive.
	ErrInvalidFetchBackoff = errors.New("config: FETCH_BACKOFF_MS must be positive")
	// ErrInvalidFetchTimeout is returned when FETCH_ATTEMPT_TIMEOUT_SEC is not positive.
	ErrInvalidFetchTimeout = errors.New("config: FETCH_ATTEMPT_TIMEOUT_SEC must be positive")
	// ErrInvalidPipelineTimeout is returned when PIPELINE_TIMEOUT_SEC is not positive.
	ErrInvalidPipelineTimeout = errors.New("config: PIPELINE_TIMEOUT_SEC must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/gifpipe" json:"temp_dir"`

	// Encoder settings
	FFmpegPath string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"` // Empty means "ffmpeg" from PATH

	// Fetch settings
	MaxDownloadBytes       int64 `env:"MAX_DOWNLOAD_BYTES, default=26214400" json:"max_download_bytes"` // 25 MiB
	FetchMaxRetries        int   `env:"FETCH_MAX_RETRIES, default=3" json:"fetch_max_retries"`
	FetchBackoffMs         int   `env:"FETCH_BACKOFF_MS, default=500" json:"fetch_backoff_ms"`
	FetchAttemptTimeoutSec int   `env:"FETCH_ATTEMPT_TIMEOUT_SEC, default=15" json:"fetch_attempt_timeout_sec"`

	// Pipeline settings
	PipelineTimeoutSec int `env:"PIPELINE_TIMEOUT_SEC, default=180" json:"pipeline_timeout_sec"`

	// Optional S3 settings for publishing finished artifacts
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// FetchBackoff returns the backoff unit as a duration.
func (c *Config) FetchBackoff() time.Duration {
	return time.Duration(c.FetchBackoffMs) * time.Millisecond
}

// FetchAttemptTimeout returns the per-attempt fetch timeout as a duration.
func (c *Config) FetchAttemptTimeout() time.Duration {
	return time.Duration(c.FetchAttemptTimeoutSec) * time.Second
}

// PipelineTimeout returns the overall pipeline deadline as a duration.
func (c *Config) PipelineTimeout() time.Duration {
	return time.Duration(c.PipelineTimeoutSec) * time.Second
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all configured values are usable.
func (c *Config) Validate() error {
	if c.MaxDownloadBytes <= 0 {
		return ErrInvalidMaxDownloadBytes
	}
	if c.FetchMaxRetries < 0 {
		return ErrInvalidFetchRetries
	}
	if c.FetchBackoffMs <= 0 {
		return ErrInvalidFetchBackoff
	}
	if c.FetchAttemptTimeoutSec <= 0 {
		return ErrInvalidFetchTimeout
	}
	if c.PipelineTimeoutSec <= 0 {
		return ErrInvalidPipelineTimeout
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, FFmpegPath: %s, MaxDownloadBytes: %d, FetchMaxRetries: %d, FetchBackoffMs: %d, FetchAttemptTimeoutSec: %d, PipelineTimeoutSec: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.FFmpegPath,
		c.MaxDownloadBytes,
		c.FetchMaxRetries,
		c.FetchBackoffMs,
		c.FetchAttemptTimeoutSec,
		c.PipelineTimeoutSec,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
