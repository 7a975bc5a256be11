package state

import (
	"context"
	"sync"
)

// memoryStore is a process-local Store backed by a guarded map. It is the
// default backend for a single gateway instance and the reference semantics
// every other backend must match.
type memoryStore struct {
	mu     sync.Mutex
	states map[string]*ModelState
	fallbacks int64
}

// NewMemory returns a Store with no shared state beyond this process.
func NewMemory() Store {
	return &memoryStore{states: make(map[string]*ModelState)}
}

func (m *memoryStore) Get(_ context.Context, name string) (*ModelState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[name]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *memoryStore) Put(_ context.Context, name string, s *ModelState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := s.Clone()
	if existing, ok := m.states[name]; ok {
		stored.version = existing.version + 1
	} else {
		stored.version = 1
	}
	m.states[name] = stored
	return nil
}

func (m *memoryStore) CompareAndSwap(_ context.Context, name string, expected, next *ModelState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.states[name]
	if !ok {
		if expected != nil {
			return ErrNotFound
		}
		stored := next.Clone()
		stored.version = 1
		m.states[name] = stored
		return nil
	}

	wantVersion := uint64(0)
	if expected != nil {
		wantVersion = expected.version
	}
	if current.version != wantVersion {
		return ErrConflict
	}

	stored := next.Clone()
	stored.version = current.version + 1
	m.states[name] = stored
	return nil
}

func (m *memoryStore) List(_ context.Context) ([]*ModelState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*ModelState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (m *memoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, name)
	return nil
}

func (m *memoryStore) RecordFallbackUsage(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
	return m.fallbacks, nil
}
