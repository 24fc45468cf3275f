// Package logging provides structured logging built on zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger.
var Logger zerolog.Logger

// Level aliases zerolog's level type.
type Level = zerolog.Level

// Levels exposed for callers that configure logging.
const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config controls logger output.
type Config struct {
	// Level is the minimum level emitted.
	Level Level
	// Output defaults to os.Stderr.
	Output io.Writer
	// Pretty switches to human-readable console output.
	Pretty bool
}

// Init replaces the process logger.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a Level, case-insensitively.
// Unrecognized names fall back to InfoLevel.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Debug starts a debug level event.
func Debug() *zerolog.Event { return Logger.Debug() }

// Info starts an info level event.
func Info() *zerolog.Event { return Logger.Info() }

// Warn starts a warn level event.
func Warn() *zerolog.Event { return Logger.Warn() }

// Error starts an error level event.
func Error() *zerolog.Event { return Logger.Error() }

// Fatal starts a fatal level event. Msg or Send exits the process.
func Fatal() *zerolog.Event { return Logger.Fatal() }

// With opens a child logger context.
func With() zerolog.Context { return Logger.With() }

func init() {
	Init(Config{Level: InfoLevel})
}
