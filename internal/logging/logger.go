// Package logging provides structured, leveled logging for httpcore on top
// of zap.
package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel mirrors zapcore.Level so callers don't need to import zap.
type LogLevel = zapcore.Level

const (
	LevelDebug LogLevel = zapcore.DebugLevel
	LevelInfo  LogLevel = zapcore.InfoLevel
	LevelWarn  LogLevel = zapcore.WarnLevel
	LevelError LogLevel = zapcore.ErrorLevel
)

// Logger wraps a zap.SugaredLogger behind the key-value/printf surface the
// rest of httpcore uses.
type Logger struct {
	sugar *zap.SugaredLogger
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// Config holds logging configuration.
type Config struct {
	Level  LogLevel
	Format string // "json" or "console"; empty defaults to "console"
	Output io.Writer
	Sync   bool // sync once when NewLogger builds the logger; individual writes are not flushed
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "console",
		Output: os.Stderr,
	}
}

// NewLogger builds a Logger from the given configuration.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "ts"

	var encoder zapcore.Encoder
	if config.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.ConsoleSeparator = " "
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	ws := zapcore.AddSync(output)
	core := zapcore.NewCore(encoder, ws, config.Level)

	zl := zap.New(core)
	l := &Logger{sugar: zl.Sugar()}
	if config.Sync {
		l.Sync()
	}
	return l
}

// Default returns the process-wide default logger, creating it on first use.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithThread returns a Logger tagged with an I/O thread index.
func (l *Logger) WithThread(id int) *Logger {
	return &Logger{sugar: l.sugar.With("iothread_id", id)}
}

// WithConn returns a Logger tagged with a connection slot id.
func (l *Logger) WithConn(id uint64) *Logger {
	return &Logger{sugar: l.sugar.With("conn_id", id)}
}

// WithRequest returns a Logger tagged with a request id and an operation
// label (e.g. "READ", "WRITE").
func (l *Logger) WithRequest(requestID uint64, op string) *Logger {
	return &Logger{sugar: l.sugar.With("request_id", requestID, "op", op)}
}

// WithError returns a Logger with the error attached as a field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{sugar: l.sugar.With("error", err)}
}

func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// Printf-style logging, kept for call sites that want fmt.Sprintf-style
// formatting instead of key/value pairs.
func (l *Logger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }

// Printf satisfies the interfaces.Logger surface used across the I/O path.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.sugar.Sync() }

// Global convenience functions operating on the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
