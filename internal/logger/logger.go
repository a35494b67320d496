// Package logger provides the common logging interface used across the proxy.
package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger defines the logging interface every component depends on instead
// of a process-wide singleton.
type Logger interface {
	Printf(format string, v ...any)
	Println(v ...any)
	Fatalf(format string, v ...any)
	WithField(key string, value any) Logger
	WithError(err error) Logger
}

// Null is a discarding logger, useful in tests.
var Null Logger = New(io.Discard, "error")

type logrusLogger struct {
	entry *logrus.Entry
}

// New returns a logrus-backed Logger writing to w at the given level
// ("debug", "info", "warn", "error").
func New(w io.Writer, level string) Logger {
	lg := logrus.New()
	lg.SetOutput(w)
	lg.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		lg.SetLevel(lvl)
	}
	return &logrusLogger{entry: logrus.NewEntry(lg)}
}

func (l *logrusLogger) Printf(format string, v ...any) { l.entry.Infof(format, v...) }
func (l *logrusLogger) Println(v ...any)               { l.entry.Info(v...) }
func (l *logrusLogger) Fatalf(format string, v ...any)  { l.entry.Fatalf(format, v...) }

func (l *logrusLogger) WithField(key string, value any) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}
