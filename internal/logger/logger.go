// Package logger builds the process logger. Logging is off unless debug is
// set, so the dashboard owns the terminal.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New creates a logger writing JSON lines to stderr when debug is enabled.
func New(debug bool) zerolog.Logger {
	return NewWithWriter(debug, os.Stderr)
}

// NewWithWriter creates a logger writing to w when debug is enabled and a
// disabled logger otherwise.
func NewWithWriter(debug bool, w io.Writer) zerolog.Logger {
	if !debug {
		return zerolog.Nop()
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(zerolog.DebugLevel)
}

// Console creates a human-readable logger for one-shot commands.
func Console(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger().Level(level)
}
