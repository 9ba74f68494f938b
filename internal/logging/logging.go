// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide zerolog setup.

package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLevel overrides the configured level when set.
const EnvLevel = "HIOLOAD_LOG_LEVEL"

// Options selects level and output format ("console" or "json").
type Options struct {
	App    string
	Level  string
	Format string
	Out    io.Writer
}

// New builds the root logger and installs it as the zerolog global.
func New(o Options) zerolog.Logger {
	out := o.Out
	if out == nil {
		out = os.Stderr
	}
	if !strings.EqualFold(o.Format, "json") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	lvl := o.Level
	if env := os.Getenv(EnvLevel); env != "" {
		lvl = env
	}
	logger := zerolog.New(out).Level(ParseLevel(lvl)).With().Timestamp()
	if o.App != "" {
		logger = logger.Str("app", o.App)
	}
	l := logger.Logger()
	log.Logger = l
	return l
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
