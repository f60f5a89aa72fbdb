// Package logging builds the process-wide structured logger and the
// per-goroutine panic recovery helper every connection handler uses.
//
// Built on rs/zerolog: JSON by default, a pretty console writer for
// local development, and a RecoverPanic helper so a panic inside one
// connection's handler can never take down the process: an unexpected
// panic inside a handler must terminate only that connection.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Format selects JSON (machine-readable) or pretty (human-readable,
// local dev) log output.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Config configures the logger New builds.
type Config struct {
	Level  string
	Format Format
}

// New builds a zerolog.Logger with a timestamp, caller info, and a
// fixed service field.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).With().
		Timestamp().
		Caller().
		Str("service", "chat-core").
		Logger()
}

// RecoverPanic is deferred at the top of every per-connection goroutine
// (read pump, write pump). It logs the panic and
// its stack trace but lets the goroutine exit normally rather than
// crashing the process.
func RecoverPanic(logger zerolog.Logger, goroutineName string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Str("goroutine", goroutineName).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack()))
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("goroutine panic recovered")
	}
}

// LogError logs err with contextual fields.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
