package config

import (
	"sync/atomic"

	"github.com/lorawan-server/floranet-ns/internal/models"
)

// Manager holds the live Config behind an atomic pointer, per §5's
// "Config: swapped atomically on reload" rule. Readers never block and
// never see a partially-written Config.
type Manager struct {
	cur atomic.Pointer[models.Config]
}

// NewManager wraps an already-loaded Config.
func NewManager(cfg *models.Config) *Manager {
	m := &Manager{}
	m.cur.Store(cfg)
	return m
}

// Get returns the current Config. Safe for concurrent use.
func (m *Manager) Get() *models.Config {
	return m.cur.Load()
}

// Set installs a new Config, validating it first. Callers that need to
// react to what changed (internal/engine's Reload) should compare
// m.Get() against next before calling Set.
func (m *Manager) Set(next *models.Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	m.cur.Store(next)
	return nil
}
