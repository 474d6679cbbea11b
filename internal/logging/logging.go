// Package logging initializes the process-wide zerolog logger the engine
// and CLI share. Telemetry must never crash or spam its host, so the
// default level is warn and output auto-selects console formatting only
// when stderr is a terminal.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Config controls logger initialization.
type Config struct {
	Format    string // "json", "console", or "auto"
	Level     string // "debug", "info", "warn", "error"
	Component string // optional component name added to every event
}

var isTerminalFn = term.IsTerminal

// Init configures the global logger. Empty fields fall back to the
// BEACON_LOG_LEVEL and BEACON_LOG_FORMAT environment variables, then to
// warn/auto.
func Init(cfg Config) {
	level := firstNonEmpty(cfg.Level, os.Getenv("BEACON_LOG_LEVEL"), "warn")
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = zerolog.WarnLevel
	}

	var out io.Writer = os.Stderr
	format := firstNonEmpty(cfg.Format, os.Getenv("BEACON_LOG_FORMAT"), "auto")
	if format == "console" || (format == "auto" && isTerminalFn(int(os.Stderr.Fd()))) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).Level(parsed).With().Timestamp()
	if cfg.Component != "" {
		logger = logger.Str("component", cfg.Component)
	}
	log.Logger = logger.Logger()
}

// Component returns a child logger tagged with a component name, for
// packages that want their events attributable without reconfiguring the
// global logger.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
