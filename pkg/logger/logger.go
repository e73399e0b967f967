package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field holding an arbitrary value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger wraps logrus with the field helpers used throughout the server
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger with default settings (info level, text format)
func New() *Logger {
	return NewWithConfig("info", "text")
}

// NewWithConfig creates a logger honoring the logging configuration block
func NewWithConfig(level, format string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	if parsed, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(parsed)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{entry: logrus.NewEntry(l)}
}

// WithFields returns a logger that always carries the given fields
func (l *Logger) WithFields(fields ...Field) *Logger {
	return &Logger{entry: l.entry.WithFields(toLogrusFields(fields))}
}

// WithComponent returns a logger tagged with a component name
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{entry: l.entry.WithField("component", name)}
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Debug(msg)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Info(msg)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.entry.WithFields(toLogrusFields(fields)).Warn(msg)
}

func (l *Logger) Error(msg string, err error, fields ...Field) {
	entry := l.entry.WithFields(toLogrusFields(fields))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

func (l *Logger) Fatal(msg string, err error, fields ...Field) {
	entry := l.entry.WithFields(toLogrusFields(fields))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Fatal(msg)
}

func toLogrusFields(fields []Field) logrus.Fields {
	if len(fields) == 0 {
		return nil
	}
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

// Global logger instance
var defaultLogger = New()

// Configure replaces the process-wide default logger
func Configure(level, format string) {
	defaultLogger = NewWithConfig(level, format)
}

// Default returns the process-wide default logger
func Default() *Logger {
	return defaultLogger
}

// Package-level functions for convenience
func Debug(msg string, fields ...Field) {
	defaultLogger.Debug(msg, fields...)
}

func Info(msg string, fields ...Field) {
	defaultLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	defaultLogger.Warn(msg, fields...)
}

func Error(msg string, err error, fields ...Field) {
	defaultLogger.Error(msg, err, fields...)
}

func Fatal(msg string, err error, fields ...Field) {
	defaultLogger.Fatal(msg, err, fields...)
}
