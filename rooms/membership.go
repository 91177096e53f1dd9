package rooms

import (
	"sort"
	"sync"

	"github.com/ramory-l/kissio"
)

// Membership is the set of rooms one socket joined.
type Membership struct {
	mu  sync.RWMutex
	ids map[string]struct{}
	// released once the socket is gone; later joins are refused
	released bool
}

func newMembership() *Membership {
	return &Membership{ids: make(map[string]struct{})}
}

// MembershipOf returns the membership the plugin attached to s, or nil.
func MembershipOf(s *kissio.Socket) *Membership {
	v, ok := s.Capability(Capability)
	if !ok {
		return nil
	}
	m, _ := v.(*Membership)
	return m
}

// Has reports whether the socket is in room id.
func (m *Membership) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.ids[id]
	return ok
}

// IDs returns the joined room ids, sorted.
func (m *Membership) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.ids))
	for id := range m.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of joined rooms.
func (m *Membership) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

func (m *Membership) add(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return false
	}
	m.ids[id] = struct{}{}
	return true
}

func (m *Membership) remove(id string) {
	m.mu.Lock()
	delete(m.ids, id)
	m.mu.Unlock()
}

func (m *Membership) reset() []string {
	return m.drain(false)
}

func (m *Membership) release() []string {
	return m.drain(true)
}

func (m *Membership) drain(release bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.released = m.released || release

	ids := make([]string, 0, len(m.ids))
	for id := range m.ids {
		ids = append(ids, id)
	}
	clear(m.ids)
	return ids
}
