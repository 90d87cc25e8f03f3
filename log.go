package mjolnir

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// log is the package-wide logger. Builds are batch processes, so a single
// shared sugared logger is enough; callers may swap it via InitLogger before
// starting the pipeline.
var log = zap.NewNop().Sugar()

// InitLogger configures the package logger with the given level
// ("debug", "info", "warn", "error"). Unknown levels fall back to info.
func InitLogger(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	log = logger.Sugar()
	return nil
}
