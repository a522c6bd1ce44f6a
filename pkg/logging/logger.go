// Package logging holds the process-wide logrus logger used by every
// rollcall component. Packages take a *logrus.Entry from Component and tag
// their lines with it.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the application-wide logger instance.
var Logger *logrus.Logger

// Fields is an alias for logrus.Fields for convenience.
type Fields = logrus.Fields

// Options configures Init.
type Options struct {
	Level  string // debug, info, warn, error
	File   string // optional, appended to in addition to stderr
	Format string // text or json
}

func init() {
	Logger = newLogger()
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(textFormatter())
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

func textFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
}

// Init applies opts to Logger. Unknown levels fall back to info; an
// unknown format is an error.
func Init(opts Options) error {
	SetLevel(opts.Level)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		Logger.SetFormatter(textFormatter())
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		return fmt.Errorf("unknown log format %q", opts.Format)
	}

	if opts.File == "" {
		Logger.SetOutput(os.Stderr)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	Logger.SetOutput(io.MultiWriter(os.Stderr, file))
	return nil
}

// SetLevel sets the logging level. Anything logrus cannot parse means info.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)
}

// Debugf logs a formatted debug message.
func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

// Infof logs a formatted info message.
func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

// Warnf logs a formatted warning message.
func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

// Errorf logs a formatted error message.
func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}

// WithFields returns an entry with fields attached.
func WithFields(fields Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithField returns an entry with a single field attached.
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

// WithError returns an entry with an error attached.
func WithError(err error) *logrus.Entry {
	return Logger.WithError(err)
}

// Component returns a logger entry for a specific component.
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}
