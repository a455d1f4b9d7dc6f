// Package logging configures the process-wide logrus logger.
//
// Components obtain a logger carrying their name:
//
//	log := logging.Component("ingestion")
//	log.WithField("records", n).Info("Inserted batch")
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the global logger instance.
var Logger = logrus.New()

// Init configures level, format ("text" or "json") and an optional log file.
// When file is set, output goes to both stdout and the file.
// The returned closer releases the file and is safe to call when file is empty.
func Init(level, format, file string) (io.Closer, error) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nopCloser{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	Logger.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nopCloser{}, fmt.Errorf("invalid log format %q", format)
	}

	if file == "" {
		Logger.SetOutput(os.Stdout)
		return nopCloser{}, nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nopCloser{}, fmt.Errorf("open log file: %w", err)
	}
	Logger.SetOutput(io.MultiWriter(os.Stdout, f))
	return f, nil
}

// Component returns a logger tagged with the component name.
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
