package stores

import (
	"sync"

	"github.com/terrane-io/terrane/pkg/engine"
	"github.com/terrane-io/terrane/pkg/resource"
)

// MemoryStore is an in-memory engine.StateStore. State does not survive the
// process; it backs tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[resource.ID]*engine.AppliedResource
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recs: make(map[resource.ID]*engine.AppliedResource),
	}
}

// Get returns the applied record for a resource ID.
func (m *MemoryStore) Get(id resource.ID) (*engine.AppliedResource, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.recs[id]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

// List returns all applied records.
func (m *MemoryStore) List() ([]*engine.AppliedResource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*engine.AppliedResource, 0, len(m.recs))
	for _, rec := range m.recs {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

// Upsert writes an applied record, replacing any existing one.
func (m *MemoryStore) Upsert(rec *engine.AppliedResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.recs[rec.ID] = &cp
	return nil
}

// Delete removes the applied record for a resource ID.
func (m *MemoryStore) Delete(id resource.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.recs, id)
	return nil
}

// Len returns the number of tracked resources.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs)
}
