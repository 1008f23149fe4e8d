package config

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds a logrus logger from the logging section. A file that
// cannot be opened falls back to stderr with a warning.
func (l LoggingConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()

	if l.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if l.File != "" {
		out, err := openLogFile(l.File)
		if err != nil {
			logger.WithError(err).WithField("file", l.File).Warn("Could not open log file, logging to stderr")
		} else {
			logger.SetOutput(io.MultiWriter(os.Stderr, out))
		}
	}

	return logger
}

func openLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
