// Package logging builds the zap.Logger every slabcached package logs
// through, in the idiom of iansmith/mazboot's monitor loops: a
// "started" line with the worker's tunables, periodic INFO on actual
// decisions, DEBUG on rejected control-plane requests, and FATAL (which
// exits the process) on invariant violations.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the logger's encoding and level.
type Options struct {
	// Development switches to a human-readable console encoder with
	// DEBUG enabled; production (the default) uses JSON at INFO.
	Development bool
}

// New builds a *zap.Logger per Options. Callers should defer Sync() on
// the result.
func New(opts Options) (*zap.Logger, error) {
	if opts.Development {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	return cfg.Build()
}
