package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tradeledger/internal/config"
)

// New builds the process logger. An unknown level falls back to info so a
// typo in the config never silences a sync run.
func New(cfg config.LoggingConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
