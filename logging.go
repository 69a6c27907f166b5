package main

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logger type
type Logger = *logrus.Logger

// NewLogger creates a logger writing to stderr
func NewLogger(format string, debug bool) Logger {
	return newLogger(os.Stderr, format, debug)
}

func newLogger(out io.Writer, format string, debug bool) Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logger.SetLevel(logrus.InfoLevel)
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// discardLogger is used by tests and zero-value components
func discardLogger() Logger {
	return newLogger(io.Discard, "text", false)
}

// preview shortens s for debug output
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
