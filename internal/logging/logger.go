package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"visitinsight/internal/config"
)

// New returns a JSON logger writing to stdout unless APP_LOG_FORMAT=console
// asks for human-readable text.
func New(cfg *config.Config) *logrus.Logger {
	return newLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
}

func newLogger(w io.Writer, format, level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	if format == "console" || format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
