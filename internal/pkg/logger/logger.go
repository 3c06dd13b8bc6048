package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a logrus logger writing to stdout with the given level and format
// ("text" or "json"). Unknown levels fall back to info.
func New(level, format string) *logrus.Logger {
	return NewWithOutput(os.Stdout, level, format)
}

func NewWithOutput(out io.Writer, level, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(ParseLevel(level))

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}
	return l
}

// ParseLevel maps a config string to a logrus level.
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Global logger instance
var defaultLogger = New("info", "text")

// Default returns the package-level logger.
func Default() *logrus.Logger { return defaultLogger }

// SetDefault replaces the package-level logger, typically once at startup.
func SetDefault(l *logrus.Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Package-level functions for easy access
func Debug(format string, v ...interface{}) { defaultLogger.Debugf(format, v...) }
func Info(format string, v ...interface{})  { defaultLogger.Infof(format, v...) }
func Warn(format string, v ...interface{})  { defaultLogger.Warnf(format, v...) }
func Error(format string, v ...interface{}) { defaultLogger.Errorf(format, v...) }
func Fatal(format string, v ...interface{}) { defaultLogger.Fatalf(format, v...) }

// LogError records a failure with the component and operation it came from.
func LogError(l logrus.FieldLogger, component, operation string, fields logrus.Fields, err error) {
	entry := l.WithFields(logrus.Fields{
		"component": component,
		"operation": operation,
	})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.WithError(err).Error(operation + " failed")
}
