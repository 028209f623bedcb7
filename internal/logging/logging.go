// Package logging builds the single zerolog.Logger instance each service
// constructs at startup and threads explicitly through its components.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options configures New.
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // json, text, pretty
	Service string // service name attached to every log line
}

// New builds a structured logger. Level and format are configuration
// driven (internal/config.Logging); the returned logger is passed down
// explicitly by callers, never reached through a package-level global.
func New(opts Options) zerolog.Logger {
	var output io.Writer = os.Stdout
	if opts.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	if opts.Format == "text" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", opts.Service).
		Logger()
}
