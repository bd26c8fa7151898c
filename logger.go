package harmonic

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with harmonic-specific field helpers, so the
// estimation pipeline logs with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. If handler is nil,
// a text handler to stderr at Info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger with human-readable output at the
// given level.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewJSONLogger creates a Logger with JSON output at the given level.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all output. Library code
// defaults to this.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// WithNDim adds the sample dimensionality field.
func (l *Logger) WithNDim(ndim int) *Logger {
	return &Logger{Logger: l.Logger.With("ndim", ndim)}
}

// WithChains adds chain and sample count fields.
func (l *Logger) WithChains(nchains int, nsamples uint64) *Logger {
	return &Logger{Logger: l.Logger.With("nchains", nchains, "nsamples", nsamples)}
}
