// Package logging builds the single structured logger threaded through
// every component of this client.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Level names a minimum log level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON   Format = "json"   // machine-readable, for log aggregation
	FormatPretty Format = "pretty" // human-readable, for local development
)

// Config controls logger construction.
type Config struct {
	Level  Level
	Format Format
}

// New builds a zerolog.Logger per cfg. An unrecognised Level falls back to
// info; an unrecognised Format falls back to JSON.
func New(cfg Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Format == FormatPretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	level := zerolog.InfoLevel
	switch cfg.Level {
	case LevelDebug:
		level = zerolog.DebugLevel
	case LevelInfo:
		level = zerolog.InfoLevel
	case LevelWarn:
		level = zerolog.WarnLevel
	case LevelError:
		level = zerolog.ErrorLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
