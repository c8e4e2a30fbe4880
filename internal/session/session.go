// Package session keys conversation state by opaque client session IDs and
// evicts idle sessions after a TTL so an unattended daemon does not
// accumulate histories forever.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/oshelest/shopmate/internal/conversation"
)

const (
	defaultTTL           = 12 * time.Hour
	defaultSweepInterval = 10 * time.Minute
)

type entry struct {
	store    *conversation.Store
	lastSeen time.Time
}

// Manager hands out one conversation store per session ID. Touching a
// session resets its idle clock.
type Manager struct {
	ttl   time.Duration
	sweep time.Duration
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager creates a Manager. Non-positive ttl or sweep fall back to the
// defaults (12h TTL, 10m sweep).
func NewManager(ttl, sweep time.Duration) *Manager {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	return &Manager{
		ttl:      ttl,
		sweep:    sweep,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Get returns the conversation store for id, creating it on first use.
func (m *Manager) Get(id string) *conversation.Store {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		e = &entry{store: conversation.NewStore()}
		m.sessions[id] = e
	}
	e.lastSeen = m.now()
	return e.store
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run sweeps idle sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evict()
		}
	}
}

// Evict removes sessions idle longer than the TTL and returns how many were
// dropped.
func (m *Manager) Evict() int {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for id, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
			dropped++
		}
	}
	return dropped
}
