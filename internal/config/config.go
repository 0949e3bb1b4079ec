package config

import "time"

// Config holds server and client configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTRequired bool          `mapstructure:"jwt_required" yaml:"jwt_required"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// Inbound WebSocket frames per second per connection; 0 disables limiting.
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second" yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	ClientBuffer       int     `mapstructure:"client_buffer" yaml:"client_buffer"`

	// Client side settings used by the chat command.
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" yaml:"reconnect_interval"`
	AckTimeout        time.Duration `mapstructure:"ack_timeout" yaml:"ack_timeout"`
	TypingIdle        time.Duration `mapstructure:"typing_idle" yaml:"typing_idle"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		MaxMessageBytes:    64 * 1024,
		DatabasePath:       "quill.db",
		JWTSecret:          "change-me-in-production",
		JWTIssuer:          "quill",
		JWTAudience:        "quill-clients",
		JWTRequired:        false,
		JWTTTL:             24 * time.Hour,
		LogLevel:           "info",
		RateLimitPerSecond: 20,
		RateLimitBurst:     40,
		ClientBuffer:       32,
		ReconnectInterval:  3 * time.Second,
		AckTimeout:         5 * time.Second,
		TypingIdle:         3 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
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
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.JWTRequired {
		c.JWTRequired = true
	}
}
