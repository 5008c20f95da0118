// Package logging provides structured JSON logging for timestop.
// It uses zerolog for the structured events and lumberjack for rotating
// the log file.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents a log level.
type Level = zerolog.Level

// Log levels for convenience.
const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level Level

	// JSON enables JSON output format (default: true for file, false for console)
	JSON bool

	// FilePath is the path to the log file (empty for console only)
	FilePath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress enables gzip compression of rotated files
	Compress bool

	// Console enables console output in addition to file output
	Console bool
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      InfoLevel,
		JSON:       true,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     7,
		Compress:   true,
	}
}

// Logger wraps zerolog.Logger with the task and component context used
// across timestop.
type Logger struct {
	zl zerolog.Logger
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
	loggerMu     sync.RWMutex
)

// Init initializes the global logger with the given configuration.
// If config is nil, defaults are used.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var writers []io.Writer

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return err
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}

	// The TUI owns the terminal, so console output is opt-in once a file is set.
	if cfg.Console || cfg.FilePath == "" {
		if cfg.JSON {
			writers = append(writers, os.Stderr)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: time.RFC3339,
			})
		}
	}

	var output io.Writer
	if len(writers) == 1 {
		output = writers[0]
	} else {
		output = zerolog.MultiLevelWriter(writers...)
	}

	loggerMu.Lock()
	globalLogger = New(output, cfg.Level)
	loggerMu.Unlock()

	return nil
}

// New builds a standalone logger writing JSON to w.
func New(w io.Writer, level Level) *Logger {
	zl := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Get returns the global logger, initializing with defaults if needed.
func Get() *Logger {
	loggerOnce.Do(func() {
		loggerMu.RLock()
		initialized := globalLogger != nil
		loggerMu.RUnlock()
		if !initialized {
			_ = Init(nil)
		}
	})

	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return globalLogger
}

func (l *Logger) derive(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

// WithTaskID returns a new logger with the task_id field set.
func (l *Logger) WithTaskID(taskID string) *Logger {
	return l.derive(l.zl.With().Str("task_id", taskID).Logger())
}

// WithComponent returns a new logger with the component field set.
func (l *Logger) WithComponent(component string) *Logger {
	return l.derive(l.zl.With().Str("component", component).Logger())
}

// WithField returns a new logger with an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(l.zl.With().Interface(key, value).Logger())
}

// WithFields returns a new logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return l.derive(ctx.Logger())
}

// WithError returns a new logger with the error field set.
func (l *Logger) WithError(err error) *Logger {
	return l.derive(l.zl.With().Err(err).Logger())
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.zl.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.zl.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.zl.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string) {
	l.zl.Error().Msg(msg)
}

// ParseLevel parses a level string into a Level.
func ParseLevel(level string) (Level, error) {
	return zerolog.ParseLevel(level)
}

// LoggingConfig mirrors the logging section of the config file.
type LoggingConfig struct {
	Level      string
	FilePath   string
	JSON       bool
	Console    bool
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// InitFromLogConfig initializes the global logger from a LoggingConfig.
func InitFromLogConfig(lc LoggingConfig) error {
	cfg := DefaultConfig()

	if lc.Level != "" {
		level, err := ParseLevel(lc.Level)
		if err != nil {
			return err
		}
		cfg.Level = level
	}

	cfg.FilePath = lc.FilePath
	cfg.JSON = lc.JSON
	cfg.Console = lc.Console

	if lc.MaxSize > 0 {
		cfg.MaxSize = lc.MaxSize
	}
	if lc.MaxBackups > 0 {
		cfg.MaxBackups = lc.MaxBackups
	}
	if lc.MaxAge > 0 {
		cfg.MaxAge = lc.MaxAge
	}
	cfg.Compress = lc.Compress

	return Init(cfg)
}
