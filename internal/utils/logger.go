// Package utils provides shared logging and small helpers for the proxy.
package utils

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// ANSI color codes
const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorGray    = "\033[90m"
)

// LogLevel represents the log level
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelSuccess LogLevel = "SUCCESS"
	LogLevelWarn    LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelDebug   LogLevel = "DEBUG"
)

// LogEntry is a structured log record kept in the in-memory history ring.
type LogEntry struct {
	Timestamp string   `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Message   string   `json:"message"`
}

// LogListener receives every log entry as it is written.
type LogListener func(entry LogEntry)

// Logger provides leveled, colored logging with history and listeners.
type Logger struct {
	mu             sync.RWMutex
	isDebugEnabled bool
	history        []LogEntry
	maxHistory     int
	listeners      []LogListener
}

// NewLogger creates a new Logger instance.
func NewLogger() *Logger {
	return &Logger{maxHistory: 1000}
}

// SetDebug enables or disables debug output.
func (l *Logger) SetDebug(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isDebugEnabled = enabled
}

// IsDebugEnabled reports whether debug output is enabled.
func (l *Logger) IsDebugEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isDebugEnabled
}

// AddListener registers a log listener.
func (l *Logger) AddListener(listener LogListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, listener)
}

// GetHistory returns a copy of the retained log history.
func (l *Logger) GetHistory() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LogEntry, len(l.history))
	copy(out, l.history)
	return out
}

func (l *Logger) print(level LogLevel, color, message string, args ...interface{}) {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	formatted := fmt.Sprintf(message, args...)

	fmt.Fprintf(os.Stdout, "%s[%s]%s %s[%s]%s %s\n",
		colorGray, ts, colorReset, color, level, colorReset, formatted)

	entry := LogEntry{Timestamp: ts, Level: level, Message: formatted}

	l.mu.Lock()
	l.history = append(l.history, entry)
	if len(l.history) > l.maxHistory {
		l.history = l.history[1:]
	}
	listeners := make([]LogListener, len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.Unlock()

	for _, listener := range listeners {
		listener(entry)
	}
}

// Info logs an informational message.
func (l *Logger) Info(message string, args ...interface{}) {
	l.print(LogLevelInfo, colorBlue, message, args...)
}

// Success logs a success message.
func (l *Logger) Success(message string, args ...interface{}) {
	l.print(LogLevelSuccess, colorGreen, message, args...)
}

// Warn logs a warning.
func (l *Logger) Warn(message string, args ...interface{}) {
	l.print(LogLevelWarn, colorYellow, message, args...)
}

// Error logs an error.
func (l *Logger) Error(message string, args ...interface{}) {
	l.print(LogLevelError, colorRed, message, args...)
}

// Debug logs a debug message when debug mode is on.
func (l *Logger) Debug(message string, args ...interface{}) {
	if l.IsDebugEnabled() {
		l.print(LogLevelDebug, colorMagenta, message, args...)
	}
}

var (
	globalLogger     *Logger
	globalLoggerOnce sync.Once
)

// GetLogger returns the process-wide logger.
func GetLogger() *Logger {
	globalLoggerOnce.Do(func() {
		globalLogger = NewLogger()
	})
	return globalLogger
}

// Info logs through the global logger.
func Info(message string, args ...interface{}) { GetLogger().Info(message, args...) }

// Success logs through the global logger.
func Success(message string, args ...interface{}) { GetLogger().Success(message, args...) }

// Warn logs through the global logger.
func Warn(message string, args ...interface{}) { GetLogger().Warn(message, args...) }

// Error logs through the global logger.
func Error(message string, args ...interface{}) { GetLogger().Error(message, args...) }

// Debug logs through the global logger.
func Debug(message string, args ...interface{}) { GetLogger().Debug(message, args...) }

// SetDebug toggles debug mode on the global logger.
func SetDebug(enabled bool) { GetLogger().SetDebug(enabled) }
