// Package util provides low-level helpers shared by all other packages.
package util

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// zerologLevel maps a CLI verbosity onto the zerolog level that is let
// through.  Quiet still reports errors.
func (l LogLevel) zerologLevel() zerolog.Level {
	switch {
	case l <= LogQuiet:
		return zerolog.ErrorLevel
	case l == LogNormal:
		return zerolog.InfoLevel
	case l == LogVerbose:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// Logger is a structured, levelled logger backed by zerolog.  Child
// loggers created with [Logger.With] share the parent's output.
type Logger struct {
	zl    zerolog.Logger
	level LogLevel
}

// NewLogger returns a Logger that writes human-readable lines to stderr
// at the given verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	l := &Logger{level: LogLevel(verbosity)}
	l.SetOutput(os.Stderr)
	return l
}

// NewJSONLogger returns a Logger emitting one JSON object per line.  Used
// by the API server, whose output is usually collected by a supervisor.
func NewJSONLogger(w io.Writer, verbosity int) *Logger {
	lvl := LogLevel(verbosity)
	return &Logger{
		zl:    zerolog.New(w).Level(lvl.zerologLevel()).With().Timestamp().Logger(),
		level: lvl,
	}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), level: LogQuiet}
}

// SetOutput overrides the output writer (default: os.Stderr).  Timestamps
// are only printed in debug mode.
func (l *Logger) SetOutput(w io.Writer) {
	cw := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		TimeFormat: "15:04:05.000",
	}
	stamped := l.level >= LogDebug
	if !stamped {
		cw.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	ctx := zerolog.New(cw).Level(l.level.zerologLevel()).With()
	if stamped {
		ctx = ctx.Timestamp()
	}
	l.zl = ctx.Logger()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// With returns a child logger that tags every entry with key=value.
func (l *Logger) With(key string, value interface{}) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{
		zl:    l.zl.With().Interface(key, value).Logger(),
		level: l.level,
	}
}

// Error always prints regardless of verbosity.
func (l *Logger) Error() *zerolog.Event { return l.logger().Error() }

// Warn prints when verbosity ≥ 1.
func (l *Logger) Warn() *zerolog.Event { return l.logger().Warn() }

// Info prints when verbosity ≥ 1.
func (l *Logger) Info() *zerolog.Event { return l.logger().Info() }

// Verbose prints when verbosity ≥ 2.
func (l *Logger) Verbose() *zerolog.Event { return l.logger().Debug() }

// Debug prints when verbosity ≥ 3.
func (l *Logger) Debug() *zerolog.Event { return l.logger().Trace() }

// Zerolog exposes the underlying logger for libraries that accept one.
func (l *Logger) Zerolog() zerolog.Logger { return *l.logger() }

var nop = zerolog.Nop()

// nil-safe: a nil *Logger behaves like Nop.
func (l *Logger) logger() *zerolog.Logger {
	if l == nil {
		return &nop
	}
	return &l.zl
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
}
