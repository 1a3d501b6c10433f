// Package logx configures the three stderr streams spec.md §6 calls for:
// debug, error, and a fatal stream that exits 1. It is a thin façade over
// logrus so the session packages never depend on the logging library
// directly.
package logx

import (
	"os"

	"github.com/sirupsen/logrus"
)

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetDebug flips the debug stream on or off at runtime.
func SetDebug(on bool) {
	if on {
		std.SetLevel(logrus.DebugLevel)
	} else {
		std.SetLevel(logrus.InfoLevel)
	}
}

// WithField returns an entry carrying a single structured field, used by
// session code to tag every log line with a session label.
func WithField(key string, value interface{}) *logrus.Entry {
	return std.WithField(key, value)
}

// Debug logs at the debug level; suppressed unless SetDebug(true) was called.
func Debug(format string, args ...interface{}) {
	std.Debugf(format, args...)
}

// Info logs a routine, always-visible message (session accepted, listener
// started).
func Info(format string, args ...interface{}) {
	std.Infof(format, args...)
}

// Error logs a non-fatal error; execution continues.
func Error(format string, args ...interface{}) {
	std.Errorf(format, args...)
}

// Fatal logs an "ERROR:"-prefixed message and exits with status 1.
func Fatal(format string, args ...interface{}) {
	std.Fatalf("ERROR: "+format, args...)
}
