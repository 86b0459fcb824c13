package config

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/edgecomet/imposter/pkg/types"
)

// Manager owns the live Config behind an atomic.Pointer. Reload is a pure
// Load-and-swap: the old *types.Config (and every compiled structure built
// from it) stays valid for requests already in flight, since nothing is
// mutated in place.
type Manager struct {
	ptr    atomic.Pointer[types.Config]
	path   string
	logger *zap.Logger
}

// NewManager loads path once and returns a Manager wrapping the result.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path, logger: logger}
	m.ptr.Store(cfg)
	return m, nil
}

// Get returns the currently active config. Safe for concurrent use without
// locking; callers never see a partially-applied reload.
func (m *Manager) Get() *types.Config {
	return m.ptr.Load()
}

// Reload re-reads and validates the config file, swapping it in only if it
// parses and validates cleanly. A failing reload logs and keeps serving the
// previous config rather than crashing the process.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		if m.logger != nil {
			m.logger.Error("config reload failed, keeping previous config", zap.Error(err))
		}
		return err
	}
	m.ptr.Store(cfg)
	if m.logger != nil {
		m.logger.Info("config reloaded", zap.String("path", m.path))
	}
	return nil
}
