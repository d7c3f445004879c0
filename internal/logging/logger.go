// Package logging provides categorized structured logging for critgate.
// Each subsystem gets a named child logger so log output can be filtered
// per category.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"critgate/internal/config"
)

// Log categories, one per subsystem.
const (
	CategoryBoot       = "boot"
	CategoryTunnel     = "tunnel"
	CategoryFilter     = "filter"
	CategoryJudgment   = "judgment"
	CategoryLedger     = "ledger"
	CategoryConsultant = "consultant"
	CategoryScheduler  = "scheduler"
	CategoryServer     = "server"
	CategoryStore      = "store"
)

// New builds the root logger from config.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	log, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log, nil
}

// For returns the category-scoped child of a root logger. A nil root
// yields a no-op logger, which keeps tests quiet.
func For(root *zap.Logger, category string) *zap.Logger {
	if root == nil {
		return zap.NewNop()
	}
	return root.Named(category)
}
