package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger *logrus.Logger

// Options controls where log output goes in addition to stdout
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

func init() {
	Logger = logrus.New()

	// Set output to stdout
	Logger.SetOutput(os.Stdout)

	// Set log level from environment or default to Info
	Logger.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))

	// Set JSON formatter for structured logging
	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
}

// Configure applies the level and, when a file is set, tees output into a
// rotating log file. The returned closer flushes the file sink.
func Configure(opts Options) io.Closer {
	if opts.Level != "" {
		Logger.SetLevel(parseLevel(opts.Level))
	}
	if opts.File == "" {
		Logger.SetOutput(os.Stdout)
		return io.NopCloser(nil)
	}

	fileWriter := &lumberjack.Logger{
		Filename:   opts.File,
		LocalTime:  true,
		Compress:   true,
		MaxSize:    orDefault(opts.MaxSizeMB, 100),
		MaxAge:     orDefault(opts.MaxAgeDays, 7),
		MaxBackups: orDefault(opts.MaxBackups, 3),
	}
	Logger.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	return fileWriter
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// WithFields creates a new entry with the given fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithField creates a new entry with a single field
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

// WithError creates a new entry with an error field
func WithError(err error) *logrus.Entry {
	return Logger.WithError(err)
}

// WithComponent tags an entry with the emitting component
func WithComponent(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}

// Info logs an info message
func Info(msg string) {
	Logger.Info(msg)
}

// Error logs an error message
func Error(msg string) {
	Logger.Error(msg)
}

// Debug logs a debug message
func Debug(msg string) {
	Logger.Debug(msg)
}

// Warn logs a warning message
func Warn(msg string) {
	Logger.Warn(msg)
}
