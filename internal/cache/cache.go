// Package cache wraps go-cache to track which sources have a fetch in flight.
// Claims expire on their own so a lost release cannot block a source forever.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type Manager struct {
	cache *gocache.Cache
}

// NewManager returns a cache whose claims expire after ttl. Expired entries
// are purged every cleanup interval.
func NewManager(ttl, cleanup time.Duration) *Manager {
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	return &Manager{cache: gocache.New(ttl, cleanup)}
}

// Acquire claims key until Release or until the TTL elapses. It reports
// false if the key is already claimed.
func (m *Manager) Acquire(key string, value any) bool {
	return m.cache.Add(key, value, gocache.DefaultExpiration) == nil
}

func (m *Manager) Release(key string) { m.cache.Delete(key) }

// Keys lists the unexpired keys.
func (m *Manager) Keys() []string {
	items := m.cache.Items()
	out := make([]string, 0, len(items))
	for k := range items {
		out = append(out, k)
	}
	return out
}
