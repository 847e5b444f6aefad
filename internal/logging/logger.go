package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	// LevelError only logs errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs general information, warnings and errors
	LevelInfo
	// LevelDebug logs detailed debug information and all above
	LevelDebug
	// LevelTrace logs very detailed trace information and all above
	LevelTrace
)

var levelNames = map[LogLevel]string{
	LevelError: "ERROR",
	LevelWarn:  "WARN",
	LevelInfo:  "INFO",
	LevelDebug: "DEBUG",
	LevelTrace: "TRACE",
}

var zerologLevels = map[LogLevel]zerolog.Level{
	LevelError: zerolog.ErrorLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelDebug: zerolog.DebugLevel,
	LevelTrace: zerolog.TraceLevel,
}

// String returns the upper-case level name.
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel converts a level name (case-insensitive) to a LogLevel.
func ParseLevel(name string) (LogLevel, bool) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for level, levelName := range levelNames {
		if levelName == upper {
			return level, true
		}
	}
	return LevelInfo, false
}

// sink is shared by a root logger and every logger derived from it with
// WithPrefix, so SetLevel and SetOutput apply to the whole family.
type sink struct {
	mu     sync.RWMutex
	level  LogLevel
	output zerolog.Logger
}

// Logger provides structured logging capabilities
type Logger struct {
	prefix string
	sink   *sink
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger("XENVFS")

		// Set initial log level from environment
		if level, ok := ParseLevel(os.Getenv("LOG_LEVEL")); ok {
			defaultLogger.SetLevel(level)
		}

		if os.Getenv("FUSE_DEBUG") != "" {
			defaultLogger.SetLevel(LevelDebug)
		}
	})
	return defaultLogger
}

// NewLogger creates a new logger with the given prefix. Output goes to
// stdout, human readable unless LOG_FORMAT=json.
func NewLogger(prefix string) *Logger {
	l := &Logger{
		prefix: prefix,
		sink:   &sink{level: LevelInfo},
	}
	l.SetOutput(os.Stdout)
	return l
}

// SetOutput redirects the logger family to w.
func (l *Logger) SetOutput(w io.Writer) {
	if os.Getenv("LOG_FORMAT") != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMicro, NoColor: true}
	}
	zl := zerolog.New(w).Level(zerolog.TraceLevel).With().Timestamp().Logger()

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output = zl
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// Level returns the current logging level.
func (l *Logger) Level() LogLevel {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()
	return l.sink.level
}

// shouldLog determines if a message at the given level should be logged
func (l *Logger) shouldLog(level LogLevel) bool {
	return level <= l.Level()
}

// log performs the actual logging
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}

	l.sink.mu.RLock()
	out := l.sink.output
	l.sink.mu.RUnlock()

	out.WithLevel(zerologLevels[level]).
		Str("component", l.prefix).
		Msg(fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Trace logs a trace message
func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(LevelTrace, format, args...)
}

// WithPrefix creates a new logger with an additional prefix. The new logger
// shares level and output with its parent.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		sink:   l.sink,
	}
}
