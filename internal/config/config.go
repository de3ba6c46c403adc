package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Defaults for everything but the upstream address, which has no default.
const (
	DefaultBindAddr         = "0.0.0.0:13892"
	DefaultMaxMessageSize   = 1 << 20 // 1 MiB
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultClosingTimeout   = 5 * time.Second
	DefaultDialTimeout      = 10 * time.Second
	DefaultMaxSessions      = 1000
)

// Config is the immutable runtime configuration, read once at startup and
// shared read-only by the listener and every session.
type Config struct {
	// BindAddr is the TCP address the WebSocket side listens on.
	BindAddr string
	// UpstreamAddr is the TCP address of the real server. Required.
	UpstreamAddr string
	// LogLevel affects only diagnostic verbosity, never behavior.
	LogLevel slog.Level
	// MaxMessageSize bounds both a single frame's declared payload length
	// and a whole reassembled message.
	MaxMessageSize int64
	// HandshakeTimeout bounds how long a client may take to complete the
	// HTTP Upgrade exchange.
	HandshakeTimeout time.Duration
	// ClosingTimeout bounds the closing handshake before the socket is torn
	// down regardless.
	ClosingTimeout time.Duration
	// DialTimeout bounds the upstream TCP connect.
	DialTimeout time.Duration
	// MaxSessions bounds the number of concurrently relaying sessions.
	MaxSessions int
}

// Default returns a Config with every field but UpstreamAddr filled in.
func Default() Config {
	return Config{
		BindAddr:         DefaultBindAddr,
		LogLevel:         slog.LevelInfo,
		MaxMessageSize:   DefaultMaxMessageSize,
		HandshakeTimeout: DefaultHandshakeTimeout,
		ClosingTimeout:   DefaultClosingTimeout,
		DialTimeout:      DefaultDialTimeout,
		MaxSessions:      DefaultMaxSessions,
	}
}

// Validate reports the first fatal configuration error, if any.
func (c *Config) Validate() error {
	if c.UpstreamAddr == "" {
		return fmt.Errorf("upstream address is required")
	}
	if _, _, err := net.SplitHostPort(c.UpstreamAddr); err != nil {
		return fmt.Errorf("invalid upstream address %q: %w", c.UpstreamAddr, err)
	}
	if _, _, err := net.SplitHostPort(c.BindAddr); err != nil {
		return fmt.Errorf("invalid bind address %q: %w", c.BindAddr, err)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive, got %d", c.MaxMessageSize)
	}
	if c.HandshakeTimeout <= 0 || c.ClosingTimeout <= 0 || c.DialTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be positive, got %d", c.MaxSessions)
	}
	return nil
}

// ParseLevel maps the -log-level flag values to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (want debug, info, warning or error)", s)
}
