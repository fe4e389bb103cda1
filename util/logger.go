// Package util provides low-level helpers shared by all other packages.
package util

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// levelVerbose sits between slog's Debug and Info levels; tint renders
// it as "DBG+2".
const levelVerbose = slog.Level(-2)

func (lv LogLevel) slogLevel() slog.Level {
	switch {
	case lv <= LogQuiet:
		return slog.LevelError
	case lv == LogNormal:
		return slog.LevelInfo
	case lv == LogVerbose:
		return levelVerbose
	default:
		return slog.LevelDebug
	}
}

// Logger writes levelled messages to stderr through a tint handler,
// with optional timestamps.  The printf-style methods format the
// message; structured attributes are attached with [Logger.With].
type Logger struct {
	mu         sync.Mutex
	level      LogLevel
	output     io.Writer
	timestamps bool // if true, prepend HH:MM:SS.mmm timestamps
	attrs      []any
	sl         *slog.Logger
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	l := &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	}
	l.rebuild()
	return l
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timestamps = on
	l.rebuild()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.rebuild()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// With returns a child logger that adds the given key/value pairs to
// every record.  Later SetOutput calls on the parent do not propagate.
func (l *Logger) With(args ...any) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	child := &Logger{
		level:      l.level,
		output:     l.output,
		timestamps: l.timestamps,
		attrs:      append(append([]any(nil), l.attrs...), args...),
	}
	child.rebuild()
	return child
}

// Slog exposes the underlying structured logger.
func (l *Logger) Slog() *slog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sl
}

// Info prints when verbosity ≥ 1.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(slog.LevelInfo, format, args...)
}

// Warn prints when verbosity ≥ 1.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(slog.LevelWarn, format, args...)
}

// Verbose prints when verbosity ≥ 2.
func (l *Logger) Verbose(format string, args ...interface{}) {
	l.write(levelVerbose, format, args...)
}

// Debug prints when verbosity ≥ 3.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(slog.LevelDebug, format, args...)
}

// Error always prints regardless of verbosity.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(slog.LevelError, format, args...)
}

func (l *Logger) write(level slog.Level, format string, args ...interface{}) {
	sl := l.Slog()
	ctx := context.Background()
	if !sl.Enabled(ctx, level) {
		return
	}
	sl.Log(ctx, level, fmt.Sprintf(format, args...))
}

// rebuild must be called with mu held.
func (l *Logger) rebuild() {
	timestamps := l.timestamps
	h := tint.NewHandler(l.output, &tint.Options{
		Level:      l.level.slogLevel(),
		TimeFormat: "15:04:05.000",
		NoColor:    !isTerminal(l.output),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if !timestamps && len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	l.sl = slog.New(h)
	if len(l.attrs) > 0 {
		l.sl = l.sl.With(l.attrs...)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
