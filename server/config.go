// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/momentics/hioload-rpc/api"
)

// Config holds all server-side configuration parameters.
type Config struct {
	ListenAddr      string // TCP bind address, e.g. ":9443"
	Workers         int    // reactor threads, each with its own SO_REUSEPORT listener
	PinCPUs         bool   // pin worker threads round-robin to CPUs
	PollEvents      int    // events fetched per Poll
	ReadBufferSize  int    // plaintext and frame read chunk size
	MaxMessageSize  int    // largest accepted WebSocket message
	MaxConnections  int    // per worker, 0 = unlimited
	MaxTransactions int    // open transactions per connection, 0 = unlimited

	CertFile string
	KeyFile  string

	// GrantEnvironments are the global environment indexes every
	// authenticated connection may use, in handle order.
	GrantEnvironments []uint32

	LogLevel  string
	LogFormat string

	// CloseLinger bounds how long a connection refused at upgrade stays
	// open for its HTTP reply to flush.
	CloseLinger time.Duration

	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        ":9443",
		Workers:           runtime.NumCPU(),
		PollEvents:        256,
		ReadBufferSize:    16 << 10,
		MaxMessageSize:    4 << 20,
		MaxTransactions:   64,
		CertFile:          "cert.pem",
		KeyFile:           "key.pem",
		GrantEnvironments: []uint32{0},
		LogLevel:          "info",
		LogFormat:         "console",
		CloseLinger:       2 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	bad := func(key string, v any) error {
		return api.NewError(api.ErrCodeInvalidArgument, "invalid config value").
			WithContext("key", key).WithContext("value", v)
	}
	switch {
	case strings.TrimSpace(c.ListenAddr) == "":
		return bad("listen_addr", c.ListenAddr)
	case c.Workers <= 0:
		return bad("workers", c.Workers)
	case c.PollEvents <= 0:
		return bad("poll_events", c.PollEvents)
	case c.ReadBufferSize <= 0:
		return bad("read_buffer_size", c.ReadBufferSize)
	case c.MaxMessageSize <= 0:
		return bad("max_message_size", c.MaxMessageSize)
	case c.MaxConnections < 0:
		return bad("max_connections", c.MaxConnections)
	case c.MaxTransactions < 0:
		return bad("max_transactions", c.MaxTransactions)
	case c.CloseLinger < 0:
		return bad("close_linger", c.CloseLinger)
	case c.ShutdownTimeout < 0:
		return bad("shutdown_timeout", c.ShutdownTimeout)
	}
	return nil
}

type fileConfig struct {
	ListenAddr        string   `toml:"listen_addr"`
	Workers           int      `toml:"workers"`
	PinCPUs           bool     `toml:"pin_cpus"`
	PollEvents        int      `toml:"poll_events"`
	ReadBufferSize    int      `toml:"read_buffer_size"`
	MaxMessageSize    int      `toml:"max_message_size"`
	MaxConnections    int      `toml:"max_connections"`
	MaxTransactions   int      `toml:"max_transactions"`
	CertFile          string   `toml:"cert_file"`
	KeyFile           string   `toml:"key_file"`
	GrantEnvironments []uint32 `toml:"grant_environments"`
	LogLevel          string   `toml:"log_level"`
	LogFormat         string   `toml:"log_format"`
	CloseLinger       string   `toml:"close_linger"`
	ShutdownTimeout   string   `toml:"shutdown_timeout"`
}

// LoadConfig overlays the keys defined in the TOML file at path onto
// DefaultConfig and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load server config: unknown key %q: %w", undecoded[0].String(), api.ErrInvalidArgument)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("pin_cpus") {
		cfg.PinCPUs = raw.PinCPUs
	}
	if meta.IsDefined("poll_events") {
		cfg.PollEvents = raw.PollEvents
	}
	if meta.IsDefined("read_buffer_size") {
		cfg.ReadBufferSize = raw.ReadBufferSize
	}
	if meta.IsDefined("max_message_size") {
		cfg.MaxMessageSize = raw.MaxMessageSize
	}
	if meta.IsDefined("max_connections") {
		cfg.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("max_transactions") {
		cfg.MaxTransactions = raw.MaxTransactions
	}
	if meta.IsDefined("cert_file") {
		cfg.CertFile = strings.TrimSpace(raw.CertFile)
	}
	if meta.IsDefined("key_file") {
		cfg.KeyFile = strings.TrimSpace(raw.KeyFile)
	}
	if meta.IsDefined("grant_environments") {
		cfg.GrantEnvironments = append([]uint32(nil), raw.GrantEnvironments...)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}
	if meta.IsDefined("close_linger") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.CloseLinger))
		if err != nil {
			return nil, fmt.Errorf("parse close_linger: %w", err)
		}
		cfg.CloseLinger = d
	}
	if meta.IsDefined("shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownTimeout))
		if err != nil {
			return nil, fmt.Errorf("parse shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
