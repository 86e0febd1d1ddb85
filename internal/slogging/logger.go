package slogging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents logging verbosity
type LogLevel int

const (
	// LogLevelDebug includes detailed debug information
	LogLevelDebug LogLevel = iota
	// LogLevelInfo includes general request information
	LogLevelInfo
	// LogLevelWarn includes warnings and errors only
	LogLevelWarn
	// LogLevelError includes only errors
	LogLevelError
)

var (
	// For storing the global logger instance
	globalLogger *Logger
)

// SimpleLogger defines the basic logging interface used across the app
type SimpleLogger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Logger is the slog-based logging component
type Logger struct {
	slogger    *slog.Logger
	level      LogLevel
	isDev      bool
	fileLogger *lumberjack.Logger
}

// Config holds configuration options for the logger
type Config struct {
	// Level is the minimum log level to output
	Level LogLevel
	// IsDev indicates if this is a development build (includes file/line info)
	IsDev bool
	// LogDir is the directory to store log files; empty disables file logging
	LogDir string
	// MaxAgeDays is the maximum number of days to retain logs
	MaxAgeDays int
	// MaxSizeMB is the maximum size of a log file in MB before rotation
	MaxSizeMB int
	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int
	// AlsoLogToConsole controls if logs also go to stdout
	AlsoLogToConsole bool
}

// ParseLogLevel converts a string log level to LogLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) toSlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// String returns the string representation of a LogLevel
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Initialize sets up the global logger with the given configuration
func Initialize(cfg Config) (*Logger, error) {
	var writers []io.Writer
	var fileLogger *lumberjack.Logger

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", cfg.LogDir, err)
		}
		fileLogger = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "server.log"),
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		writers = append(writers, fileLogger)
	}

	if cfg.AlsoLogToConsole || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level:     cfg.Level.toSlogLevel(),
		AddSource: cfg.IsDev,
	})

	logger := &Logger{
		slogger:    slog.New(handler),
		level:      cfg.Level,
		isDev:      cfg.IsDev,
		fileLogger: fileLogger,
	}

	globalLogger = logger
	return logger, nil
}

// Get returns the global logger, initializing a console-only default if needed
func Get() *Logger {
	if globalLogger == nil {
		logger, err := Initialize(Config{Level: LogLevelInfo, AlsoLogToConsole: true})
		if err != nil {
			// Console-only initialization cannot fail; guard anyway
			handler := slog.NewTextHandler(os.Stdout, nil)
			return &Logger{slogger: slog.New(handler), level: LogLevelInfo}
		}
		return logger
	}
	return globalLogger
}

// Close releases the file logger, if any
func (l *Logger) Close() error {
	if l.fileLogger != nil {
		return l.fileLogger.Close()
	}
	return nil
}

// Level returns the configured minimum log level
func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) logf(level slog.Level, format string, args ...any) {
	if len(args) > 0 {
		l.slogger.Log(context.Background(), level, fmt.Sprintf(format, args...))
		return
	}
	l.slogger.Log(context.Background(), level, format)
}

// Debug logs a debug level message
func (l *Logger) Debug(format string, args ...any) {
	l.logf(slog.LevelDebug, format, args...)
}

// Info logs an info level message
func (l *Logger) Info(format string, args ...any) {
	l.logf(slog.LevelInfo, format, args...)
}

// Warn logs a warning level message
func (l *Logger) Warn(format string, args ...any) {
	l.logf(slog.LevelWarn, format, args...)
}

// Error logs an error level message
func (l *Logger) Error(format string, args ...any) {
	l.logf(slog.LevelError, format, args...)
}
