// Package logger wraps logrus behind a small structured-logging interface so
// engine components do not depend on a concrete logging library.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents a logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents a log output format.
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config represents logger configuration.
type Config struct {
	Level      LogLevel  `yaml:"level" json:"level"`
	Format     LogFormat `yaml:"format" json:"format"`
	Output     string    `yaml:"output" json:"output"` // stdout, stderr, file
	Filename   string    `yaml:"filename" json:"filename"`
	MaxSizeMB  int       `yaml:"max_size" json:"max_size"`
	MaxAgeDays int       `yaml:"max_age" json:"max_age"`
	MaxBackups int       `yaml:"max_backups" json:"max_backups"`
	Compress   bool      `yaml:"compress" json:"compress"`
}

// DefaultConfig is the configuration used when none is supplied.
var DefaultConfig = Config{
	Level:      LevelInfo,
	Format:     FormatJSON,
	Output:     "stdout",
	MaxSizeMB:  100,
	MaxAgeDays: 30,
	MaxBackups: 10,
	Compress:   true,
}

// Logger is the structured logging interface used throughout the engine.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

type structuredLogger struct {
	entry *logrus.Entry
}

// New creates a logger from the given configuration.
func New(config Config) Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(string(config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if config.Format == FormatText {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	}

	l.SetOutput(outputWriter(config))

	return &structuredLogger{entry: logrus.NewEntry(l)}
}

// Nop returns a logger that discards everything. Used in tests and as the
// fallback when components receive a nil logger.
func Nop() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &structuredLogger{entry: logrus.NewEntry(l)}
}

func outputWriter(config Config) io.Writer {
	switch strings.ToLower(config.Output) {
	case "file":
		if config.Filename == "" {
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   config.Filename,
			MaxSize:    config.MaxSizeMB,
			MaxAge:     config.MaxAgeDays,
			MaxBackups: config.MaxBackups,
			Compress:   config.Compress,
		}
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

func (s *structuredLogger) Debug(msg string, fields ...interface{}) {
	s.entry.WithFields(pairsToFields(fields)).Debug(msg)
}

func (s *structuredLogger) Info(msg string, fields ...interface{}) {
	s.entry.WithFields(pairsToFields(fields)).Info(msg)
}

func (s *structuredLogger) Warn(msg string, fields ...interface{}) {
	s.entry.WithFields(pairsToFields(fields)).Warn(msg)
}

func (s *structuredLogger) Error(msg string, fields ...interface{}) {
	s.entry.WithFields(pairsToFields(fields)).Error(msg)
}

func (s *structuredLogger) WithField(key string, value interface{}) Logger {
	return &structuredLogger{entry: s.entry.WithField(key, value)}
}

func (s *structuredLogger) WithFields(fields map[string]interface{}) Logger {
	return &structuredLogger{entry: s.entry.WithFields(fields)}
}

// pairsToFields converts a flat key/value list into logrus fields. Odd
// trailing values are recorded under "extra".
func pairsToFields(pairs []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		fields[key] = pairs[i+1]
	}
	if len(pairs)%2 != 0 {
		fields["extra"] = pairs[len(pairs)-1]
	}
	return fields
}
