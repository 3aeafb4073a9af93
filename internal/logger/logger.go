package logger

import (
	"rag-backend/internal/config"

	"go.uber.org/zap"
)

// Logger is the process-wide sugared logger. It starts as a no-op so
// packages can log before InitLogger runs.
var Logger = zap.NewNop().Sugar()

// InitLogger initializes structured logging based on configuration
func InitLogger(cfg *config.Config) error {
	var (
		base *zap.Logger
		err  error
	)
	if cfg.GinMode == "debug" {
		base, err = zap.NewDevelopment()
	} else {
		base, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}

	Logger = base.Sugar().With("service", cfg.ServiceName)
	Logger.Debugw("structured logging initialized", "mode", cfg.GinMode)
	return nil
}

// With returns a child logger carrying the given key/value pairs.
func With(keysAndValues ...any) *zap.SugaredLogger {
	return Logger.With(keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	Logger.Infow(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	Logger.Errorw(msg, keysAndValues...)
}

func Debug(msg string, keysAndValues ...any) {
	Logger.Debugw(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	Logger.Warnw(msg, keysAndValues...)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Logger.Sync()
}
