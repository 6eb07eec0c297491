package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid wraps every configuration validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret      string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer      string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience    string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL       time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	PasswordPepper string        `mapstructure:"password_pepper" yaml:"password_pepper"`

	HistoryWindow  int      `mapstructure:"history_window" yaml:"history_window"`
	EventBuffer    int      `mapstructure:"event_buffer" yaml:"event_buffer"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	// Requests per second and burst per client IP on /api/register and /api/login.
	AuthRateLimit float64 `mapstructure:"auth_rate_limit" yaml:"auth_rate_limit"`
	AuthRateBurst int     `mapstructure:"auth_rate_burst" yaml:"auth_rate_burst"`
	// Typing events per second and burst per realtime connection.
	TypingRateLimit float64 `mapstructure:"typing_rate_limit" yaml:"typing_rate_limit"`
	TypingRateBurst int     `mapstructure:"typing_rate_burst" yaml:"typing_rate_burst"`

	BotEnabled bool          `mapstructure:"bot_enabled" yaml:"bot_enabled"`
	BotDelay   time.Duration `mapstructure:"bot_delay" yaml:"bot_delay"`

	MetricsEnabled bool `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "trix.db",
		JWTSecret:         "change-me",
		JWTIssuer:         "trix-server",
		JWTAudience:       "trix-clients",
		TokenTTL:          7 * 24 * time.Hour,
		PasswordPepper:    "change-me-too",
		HistoryWindow:     200,
		EventBuffer:       64,
		AllowedOrigins:    []string{"*"},
		AuthRateLimit:     1,
		AuthRateBurst:     10,
		TypingRateLimit:   5,
		TypingRateBurst:   10,
		BotEnabled:        true,
		BotDelay:          700 * time.Millisecond,
		MetricsEnabled:    true,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only settings exposed as command line flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
}

// Validate reports settings the server cannot run with.
func (c Config) Validate() error {
	var problems []string
	if c.Addr == "" {
		problems = append(problems, "addr is empty")
	}
	if c.DatabasePath == "" {
		problems = append(problems, "database_path is empty")
	}
	if c.JWTSecret == "" {
		problems = append(problems, "jwt_secret is empty")
	}
	if c.TokenTTL <= 0 {
		problems = append(problems, "token_ttl must be positive")
	}
	if c.HistoryWindow <= 0 {
		problems = append(problems, "history_window must be positive")
	}
	if c.EventBuffer <= 0 {
		problems = append(problems, "event_buffer must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("log_format %q is not console or json", c.LogFormat))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
