package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// Init builds the global logger. Production emits JSON, anything else gets
// the colored development encoder.
func Init(environment string) error {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return build(cfg)
}

// InitJSON initializes the global logger with JSON output regardless of environment.
func InitJSON() error {
	return build(zap.NewProductionConfig())
}

func build(cfg zap.Config) error {
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set replaces the global logger. Tests use it with zap.NewNop or an observer core.
func Set(l *zap.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Logger returns the global logger instance.
func Logger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger, _ = zap.NewProduction(zap.AddCallerSkip(1))
	}
	return logger
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = Logger().Sync()
}

// Info logs an info message.
func Info(msg string, fields ...zap.Field) {
	Logger().Info(msg, fields...)
}

// Error logs an error message.
func Error(msg string, fields ...zap.Field) {
	Logger().Error(msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...zap.Field) {
	Logger().Warn(msg, fields...)
}

// Debug logs a debug message.
func Debug(msg string, fields ...zap.Field) {
	Logger().Debug(msg, fields...)
}

// Fatal logs a fatal message and exits.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
	os.Exit(1)
}

// With creates a child logger with the given fields.
func With(fields ...zap.Field) *zap.Logger {
	return Logger().With(fields...)
}
