// Package repository provides the data access layer for lumen-sync.
// This file describes how the configured lock backend maps to a concrete
// implementation; construction happens at the composition root because the
// driver packages import this one.
package repository

import (
	"github.com/rs/zerolog"

	"github.com/prn-tf/lumen-sync/internal/config"
)

// Repositories holds all repository instances used by the upload engine.
type Repositories struct {
	Files    FileRepository
	Locks    LockRepository
	Settings SettingsRepository
}

// Factory inspects the lock backend configuration.
type Factory struct {
	cfg    config.LockBackendConfig
	logger zerolog.Logger
}

// NewFactory creates a new repository factory.
func NewFactory(cfg config.LockBackendConfig, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// Driver returns the configured lock backend driver.
func (f *Factory) Driver() string {
	return f.cfg.Driver
}

// IsEmbedded returns true when lock records share the local SQLite store,
// i.e. no external lock service needs to be reachable.
func (f *Factory) IsEmbedded() bool {
	return f.cfg.Driver == "sqlite"
}
