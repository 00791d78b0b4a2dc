// Package server provides configuration helpers that define runtime defaults,
// environment overrides, YAML loading, and validation for the relay server.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for optional configuration fields.
const (
	DefaultListenAddr      = ":9000"
	DefaultHTTPAddr        = ":8080"
	DefaultWorkers         = 4
	DefaultQueueCapacity   = 16
	DefaultReadBufferSize  = 1024
	DefaultMaxMessageSize  = 512
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// LogConfig selects the level and output format of the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds the server configuration settings.
type Config struct {
	// ListenAddr is the TCP address chat clients connect to.
	ListenAddr string `yaml:"listen_addr"`
	// HTTPAddr serves health, stats and the WebSocket bridge. Empty disables it.
	HTTPAddr string `yaml:"http_addr"`

	Workers        int `yaml:"workers"`
	QueueCapacity  int `yaml:"queue_capacity"`
	ReadBufferSize int `yaml:"read_buffer_size"`
	MaxPeers       int `yaml:"max_peers"`

	// ExcludeSender stops a client from receiving its own messages.
	ExcludeSender bool          `yaml:"exclude_sender"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxMessageSize int64    `yaml:"max_message_size"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Log             LogConfig     `yaml:"log"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:     DefaultListenAddr,
		HTTPAddr:       DefaultHTTPAddr,
		Workers:        DefaultWorkers,
		QueueCapacity:  DefaultQueueCapacity,
		ReadBufferSize: DefaultReadBufferSize,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  DefaultMaxMessageSize,
		ShutdownTimeout: DefaultShutdownTimeout,
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from defaults overridden by environment variables.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	cfg.ApplyEnv()
	cfg.sanitize()
	return &cfg
}

// LoadConfig builds the configuration from defaults, the optional YAML file at
// path (with ${VAR} expansion), and environment overrides, then validates it.
// Keys missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	cfg.ApplyEnv()
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from RELAY_* environment variables. Unparsable
// values leave the current setting in place.
func (c *Config) ApplyEnv() {
	if addr, ok := os.LookupEnv("RELAY_LISTEN_ADDR"); ok {
		c.ListenAddr = addr
	}
	// Set but empty disables the HTTP side.
	if addr, ok := os.LookupEnv("RELAY_HTTP_ADDR"); ok {
		c.HTTPAddr = addr
	}
	if v := os.Getenv("RELAY_WORKERS"); v != "" {
		c.Workers = parseIntValue(v, c.Workers)
	}
	if v := os.Getenv("RELAY_QUEUE_CAPACITY"); v != "" {
		c.QueueCapacity = parseIntValue(v, c.QueueCapacity)
	}
	if v := os.Getenv("RELAY_READ_BUFFER_SIZE"); v != "" {
		c.ReadBufferSize = parseIntValue(v, c.ReadBufferSize)
	}
	if v := os.Getenv("RELAY_MAX_PEERS"); v != "" {
		c.MaxPeers = parseIntValue(v, c.MaxPeers)
	}
	if v := os.Getenv("RELAY_EXCLUDE_SENDER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ExcludeSender = b
		}
	}
	if v := os.Getenv("RELAY_WRITE_TIMEOUT"); v != "" {
		c.WriteTimeout = parseDuration(v, c.WriteTimeout)
	}
	if v := os.Getenv("RELAY_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = parseOrigins(v)
	}
	if v := os.Getenv("RELAY_MAX_MESSAGE_SIZE"); v != "" {
		c.MaxMessageSize = parseMaxMessageSize(v, c.MaxMessageSize)
	}
	if v := os.Getenv("RELAY_SHUTDOWN_TIMEOUT"); v != "" {
		c.ShutdownTimeout = parseDuration(v, c.ShutdownTimeout)
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("RELAY_LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(strings.TrimSpace(v))
	}
}

// sanitize fills soft settings that have no meaningful zero value.
func (c *Config) sanitize() {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// Validate checks that required fields are set and values are in range.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.QueueCapacity < 2 {
		return fmt.Errorf("queue_capacity must be >= 2, got %d", c.QueueCapacity)
	}
	if c.ReadBufferSize < 1 {
		return fmt.Errorf("read_buffer_size must be >= 1, got %d", c.ReadBufferSize)
	}
	if c.MaxPeers < 0 {
		return fmt.Errorf("max_peers must be >= 0, got %d", c.MaxPeers)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// NewLogger builds the process logger described by the log section.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go durations ("5s") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
