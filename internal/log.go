// Package internal provides the leveled logger shared by the service and
// command layers.
package internal

import (
	"io"
	"log"
	"os"
	"strings"
)

// LogLevel orders message severities from quietest to noisiest.
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

var levelTags = [...]string{"ERROR", "WARN", "INFO", "DEBUG"}

// ParseLogLevel maps a LOG_LEVEL value onto a level. Unknown or empty
// values select INFO.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "ERROR":
		return LogLevelError
	case "WARN":
		return LogLevelWarn
	case "DEBUG":
		return LogLevelDebug
	default:
		return LogLevelInfo
	}
}

// Logger writes [LEVEL]-tagged lines, dropping anything noisier than its
// configured level.
type Logger struct {
	level LogLevel
	out   *log.Logger
}

// NewLogger returns a logger at the given level writing to stderr.
func NewLogger(level LogLevel) *Logger {
	return NewLoggerTo(os.Stderr, level)
}

// NewLoggerTo writes to an explicit destination; tests capture output here.
func NewLoggerTo(w io.Writer, level LogLevel) *Logger {
	return &Logger{level: level, out: log.New(w, "", log.LstdFlags)}
}

// NewDefaultLogger reads the level from the LOG_LEVEL environment variable.
func NewDefaultLogger() *Logger {
	return NewLogger(ParseLogLevel(os.Getenv("LOG_LEVEL")))
}

func (l *Logger) write(lv LogLevel, format string, args ...interface{}) {
	if lv > l.level {
		return
	}
	l.out.Printf("["+levelTags[lv]+"] "+format, args...)
}

// Error logs failures that end a run or lose data.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LogLevelError, format, args...)
}

// Warn logs degraded but recoverable conditions.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LogLevelWarn, format, args...)
}

// Info logs run progress.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LogLevelInfo, format, args...)
}

// Debug logs per-trial detail.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LogLevelDebug, format, args...)
}
