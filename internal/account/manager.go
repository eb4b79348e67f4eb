package account

import (
	"github.com/lunaroute/polyclaude-proxy/internal/config"
)

// Manager holds one pool per backend.
type Manager struct {
	pools map[config.Backend]*Pool
}

// NewManager creates all backend pools up front.
func NewManager(cfg *config.Config) *Manager {
	m := &Manager{pools: make(map[config.Backend]*Pool, len(config.Backends))}
	for _, b := range config.Backends {
		m.pools[b] = NewPool(b, cfg)
	}
	return m
}

// Pool returns the pool for a backend.
func (m *Manager) Pool(b config.Backend) *Pool {
	return m.pools[b]
}

// Pools returns every pool in backend display order.
func (m *Manager) Pools() []*Pool {
	out := make([]*Pool, 0, len(config.Backends))
	for _, b := range config.Backends {
		if p, ok := m.pools[b]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Close flushes all pools.
func (m *Manager) Close() {
	for _, p := range m.pools {
		p.Close()
	}
}
