// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"meetdash/internal/config"
)

// New creates a production JSON logger for the "production" environment
// and a development console logger otherwise.
func New(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg != nil && strings.EqualFold(cfg.BasicConfig.Environment, "production") {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg != nil && cfg.BasicConfig.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.BasicConfig.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
