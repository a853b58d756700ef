package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger levels
const (
	DEBUG = iota
	INFO
	WARN
	ERROR
	FATAL
)

var (
	// Global logger instance
	globalLogger *Logger
	globalMu     sync.Mutex

	// Default log settings
	defaultLogDir  = ".chatgate/logs"
	defaultLogFile = "chatgate.log"
)

// Options controls where and how the logger writes.
type Options struct {
	Dir        string // directory for the log file, relative paths are kept as-is
	File       string // log file name; empty disables the file sink
	Level      string // debug, info, warn, error
	Format     string // console or json (console sink only, the file is always json)
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Console    bool // also write to stderr
}

// DefaultOptions returns the settings used when nothing is configured
func DefaultOptions() Options {
	return Options{
		Dir:        defaultLogDir,
		File:       defaultLogFile,
		Level:      "info",
		Format:     "console",
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 7,
		Console:    true,
	}
}

// Logger represents the application logger
type Logger struct {
	mu      sync.Mutex
	level   zap.AtomicLevel
	base    *zap.Logger
	sugar   *zap.SugaredLogger
	rotator *lumberjack.Logger
	logPath string
}

// New builds a logger from options without touching the global instance
func New(opts Options) (*Logger, error) {
	level := zap.NewAtomicLevelAt(zapLevel(ParseLevel(opts.Level)))

	var cores []zapcore.Core
	l := &Logger{level: level}

	if opts.File != "" {
		if opts.Dir != "" {
			if err := os.MkdirAll(opts.Dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		l.logPath = filepath.Join(opts.Dir, opts.File)
		l.rotator = &lumberjack.Logger{
			Filename:   l.logPath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		cores = append(cores, zapcore.NewCore(encoder("json"), zapcore.AddSync(l.rotator), level))
	}

	if opts.Console || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(encoder(opts.Format), zapcore.Lock(os.Stderr), level))
	}

	l.base = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel))
	l.sugar = l.base.Sugar()
	return l, nil
}

func encoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "json" {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

// Initialize sets up the global logger. Calling it again replaces the previous
// instance and closes its file.
func Initialize(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}

	globalMu.Lock()
	prev := globalLogger
	globalLogger = l
	globalMu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger == nil {
		// Not initialized: stderr only, no file side effects
		opts := DefaultOptions()
		opts.File = ""
		opts.Level = "warn"
		l, err := New(opts)
		if err != nil {
			l = &Logger{level: zap.NewAtomicLevel(), base: zap.NewNop()}
			l.sugar = l.base.Sugar()
		}
		globalLogger = l
	}
	return globalLogger
}

// ParseLevel maps a level name to one of the level constants
func ParseLevel(name string) int {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

func zapLevel(level int) zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Public logging methods

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.sugar.Fatalf(format, v...)
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level int) {
	l.level.SetLevel(zapLevel(level))
}

// Named returns a component logger that shares this logger's sinks and level.
func (l *Logger) Named(name string) *zap.SugaredLogger {
	// Component loggers are called directly, so undo the skip used by the wrappers above.
	return l.base.WithOptions(zap.AddCallerSkip(-1)).Named(name).Sugar()
}

// Close flushes buffered entries and closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.base.Sync()
	if l.rotator != nil {
		err := l.rotator.Close()
		l.rotator = nil
		return err
	}
	return nil
}

// GetLogPath returns the current log file path
func (l *Logger) GetLogPath() string {
	return l.logPath
}

// Package-level convenience functions

// Debug logs a debug message using the global logger
func Debug(format string, v ...interface{}) {
	GetLogger().Debug(format, v...)
}

// Info logs an info message using the global logger
func Info(format string, v ...interface{}) {
	GetLogger().Info(format, v...)
}

// Warn logs a warning message using the global logger
func Warn(format string, v ...interface{}) {
	GetLogger().Warn(format, v...)
}

// Error logs an error message using the global logger
func Error(format string, v ...interface{}) {
	GetLogger().Error(format, v...)
}

// Fatal logs a fatal message using the global logger and exits
func Fatal(format string, v ...interface{}) {
	GetLogger().Fatal(format, v...)
}

// Named returns a component logger from the global logger
func Named(name string) *zap.SugaredLogger {
	return GetLogger().Named(name)
}

// Sync flushes the global logger
func Sync() {
	globalMu.Lock()
	l := globalLogger
	globalMu.Unlock()
	if l != nil {
		_ = l.base.Sync()
	}
}

// Writer returns an io.Writer for the logger (useful for child process output)
func Writer() io.Writer {
	return &logWriter{logger: GetLogger()}
}

// logWriter implements io.Writer for the logger
type logWriter struct {
	logger *Logger
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		w.logger.Info("%s", msg)
	}
	return len(p), nil
}

// RedirectStandardLog redirects the standard log package to use our logger
func RedirectStandardLog() {
	zap.RedirectStdLog(GetLogger().base.Named("stdlog"))
}
