// Package logger provides a simple logging interface for sysmoni components.
// It allows packages to log debug, info, warn, and error messages without
// being coupled to a specific logging implementation.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/labstack/gommon/log"
)

// Logger defines the interface for logging operations.
// All methods accept a format string and arguments, similar to fmt.Printf.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

const header = "${time_rfc3339} ${level} ${prefix}"

// gommonLogger implements Logger on top of gommon/log.
type gommonLogger struct {
	l *log.Logger
}

// New creates a logger writing to w. Debug messages are only emitted when
// debug is true or SYSMONI_DEBUG is set.
func New(prefix string, w io.Writer, debug bool) Logger {
	l := log.New(prefix)
	l.SetHeader(header)
	l.SetOutput(w)
	l.SetLevel(log.INFO)
	if debug || os.Getenv("SYSMONI_DEBUG") != "" {
		l.SetLevel(log.DEBUG)
	}
	return &gommonLogger{l: l}
}

func (g *gommonLogger) Debug(format string, args ...interface{}) { g.l.Debugf(format, args...) }
func (g *gommonLogger) Info(format string, args ...interface{})  { g.l.Infof(format, args...) }
func (g *gommonLogger) Warn(format string, args ...interface{})  { g.l.Warnf(format, args...) }
func (g *gommonLogger) Error(format string, args ...interface{}) { g.l.Errorf(format, args...) }

// noopLogger implements Logger but discards all messages.
type noopLogger struct{}

// Noop returns a logger that discards all messages.
func Noop() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Debug(format string, args ...interface{}) {}
func (l *noopLogger) Info(format string, args ...interface{})  {}
func (l *noopLogger) Warn(format string, args ...interface{})  {}
func (l *noopLogger) Error(format string, args ...interface{}) {}

// LogMessage represents a captured log message.
type LogMessage struct {
	Level   string
	Message string
}

// BufferLogger captures log messages for testing.
type BufferLogger struct {
	Messages []LogMessage
}

// NewBufferLogger creates a logger that captures messages for inspection.
func NewBufferLogger() *BufferLogger {
	return &BufferLogger{
		Messages: make([]LogMessage, 0),
	}
}

func (l *BufferLogger) Debug(format string, args ...interface{}) {
	l.Messages = append(l.Messages, LogMessage{Level: "debug", Message: fmt.Sprintf(format, args...)})
}

func (l *BufferLogger) Info(format string, args ...interface{}) {
	l.Messages = append(l.Messages, LogMessage{Level: "info", Message: fmt.Sprintf(format, args...)})
}

func (l *BufferLogger) Warn(format string, args ...interface{}) {
	l.Messages = append(l.Messages, LogMessage{Level: "warn", Message: fmt.Sprintf(format, args...)})
}

func (l *BufferLogger) Error(format string, args ...interface{}) {
	l.Messages = append(l.Messages, LogMessage{Level: "error", Message: fmt.Sprintf(format, args...)})
}

// HasLevel returns true if any message was logged at the given level.
func (l *BufferLogger) HasLevel(level string) bool {
	for _, m := range l.Messages {
		if m.Level == level {
			return true
		}
	}
	return false
}
