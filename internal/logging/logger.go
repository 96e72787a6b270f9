package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string into a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Format selects the zap encoder
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Logger provides structured logging
type Logger struct {
	base   *zap.Logger
	level  zap.AtomicLevel
	prefix string
}

func newEncoder(format Format) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	if format == FormatJSON {
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func newZap(level zap.AtomicLevel, output io.Writer, format Format) *zap.Logger {
	core := zapcore.NewCore(newEncoder(format), zapcore.AddSync(output), level)
	return zap.New(core)
}

// NewLogger creates a new logger instance
func NewLogger(level Level, output io.Writer, prefix string) *Logger {
	atomic := zap.NewAtomicLevelAt(level.zapLevel())
	return &Logger{
		base:   newZap(atomic, output, FormatConsole),
		level:  atomic,
		prefix: prefix,
	}
}

// NewDefaultLogger creates a logger sharing the global level, output and format
func NewDefaultLogger(prefix string) *Logger {
	defaults.mu.RLock()
	defer defaults.mu.RUnlock()
	return &Logger{
		base:   defaults.base,
		level:  defaults.level,
		prefix: prefix,
	}
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() *Logger {
	return &Logger{base: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

// log writes a log message if the level is appropriate
func (l *Logger) log(level Level, format string, args ...any) {
	if l == nil || l.base == nil {
		return
	}
	lvl := level.zapLevel()
	if !l.level.Enabled(lvl) {
		return
	}

	message := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		message = l.prefix + ": " + message
	}

	if ce := l.base.Check(lvl, message); ce != nil {
		ce.Write()
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// WithPrefix creates a new logger with an additional prefix
func (l *Logger) WithPrefix(prefix string) *Logger {
	newPrefix := l.prefix
	if newPrefix != "" {
		newPrefix += " "
	}
	newPrefix += prefix

	return &Logger{
		base:   l.base,
		level:  l.level,
		prefix: newPrefix,
	}
}

// With creates a new logger that attaches a structured field to every entry
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{
		base:   l.base.With(zap.Any(key, value)),
		level:  l.level,
		prefix: l.prefix,
	}
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	if l == nil || l.base == nil {
		return nil
	}
	return l.base.Sync()
}

type defaultState struct {
	mu     sync.RWMutex
	base   *zap.Logger
	level  zap.AtomicLevel
	format Format
	output io.Writer
}

// Global logger state
var defaults = func() *defaultState {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	return &defaultState{
		base:   newZap(level, os.Stdout, FormatConsole),
		level:  level,
		format: FormatConsole,
		output: os.Stdout,
	}
}()

var defaultLogger = NewDefaultLogger("")

// SetLevel sets the global log level
func SetLevel(level Level) {
	defaults.level.SetLevel(level.zapLevel())
}

// SetOutput sets the global log output
func SetOutput(output io.Writer) {
	configure(output, "")
}

// SetFormat sets the global encoder format
func SetFormat(format Format) {
	configure(nil, format)
}

func configure(output io.Writer, format Format) {
	defaults.mu.Lock()
	if output != nil {
		defaults.output = output
	}
	if format != "" {
		defaults.format = format
	}
	defaults.base = newZap(defaults.level, defaults.output, defaults.format)
	defaults.mu.Unlock()

	defaultLogger = NewDefaultLogger("")
}

// Debug logs a debug message using the global logger
func Debug(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

// Info logs an info message using the global logger
func Info(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

// Warn logs a warning message using the global logger
func Warn(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Error logs an error message using the global logger
func Error(format string, args ...any) {
	defaultLogger.Error(format, args...)
}

// Fatal logs an error message and exits
func Fatal(format string, args ...any) {
	defaultLogger.Error(format, args...)
	_ = defaultLogger.Sync()
	os.Exit(1)
}
