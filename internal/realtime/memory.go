package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.Mutex
	leaves map[string]json.RawMessage
	hub    *hub
	closed bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leaves: make(map[string]json.RawMessage),
		hub:    newHub(),
	}
}

// Subscribe implements Store.
func (m *MemoryStore) Subscribe(path string, fn Listener) (Unsubscribe, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	snap, err := m.snapshotLocked(p)
	if err != nil {
		return nil, err
	}
	return m.hub.add(p, fn, snap), nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, path string) (Snapshot, error) {
	p, err := cleanPath(path)
	if err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Snapshot{}, ErrClosed
	}
	return m.snapshotLocked(p)
}

// Set implements Store.
func (m *MemoryStore) Set(ctx context.Context, path string, value any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	raw, del, err := encodeValue(value)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.notifyLocked(m.writeLocked(p, raw, del))
}

// Transaction implements Store.
func (m *MemoryStore) Transaction(ctx context.Context, path string, update UpdateFunc) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < maxTransactionRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		current, err := m.snapshotLocked(p)
		m.mu.Unlock()
		if err != nil {
			return err
		}

		next, err := update(current)
		if err != nil {
			return err
		}
		raw, del, err := encodeValue(next)
		if err != nil {
			return err
		}

		m.mu.Lock()
		latest, err := m.snapshotLocked(p)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		if !sameSnapshot(current, latest) {
			m.mu.Unlock()
			continue
		}
		err = m.notifyLocked(m.writeLocked(p, raw, del))
		m.mu.Unlock()
		return err
	}
	return ErrTooManyRetries
}

// Close stops event delivery. Further calls fail with ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.close()
	return nil
}

func (m *MemoryStore) snapshotLocked(p string) (Snapshot, error) {
	exact, ok := m.leaves[p]
	var descendants map[string]json.RawMessage
	if !ok {
		prefix := p + "/"
		for k, v := range m.leaves {
			if strings.HasPrefix(k, prefix) {
				if descendants == nil {
					descendants = make(map[string]json.RawMessage)
				}
				descendants[k] = v
			}
		}
	}
	return assemble(p, exact, ok, descendants)
}

// writeLocked applies a write and returns every path whose value it changed.
func (m *MemoryStore) writeLocked(p string, raw json.RawMessage, del bool) []string {
	touched := []string{p}
	prefix := p + "/"
	for k := range m.leaves {
		if strings.HasPrefix(k, prefix) {
			delete(m.leaves, k)
		}
	}
	for _, a := range ancestors(p) {
		if _, ok := m.leaves[a]; ok {
			delete(m.leaves, a)
			touched = append(touched, a)
		}
	}
	if del {
		delete(m.leaves, p)
	} else {
		m.leaves[p] = raw
	}
	return touched
}

func (m *MemoryStore) notifyLocked(touched []string) error {
	for _, lp := range m.hub.affected(touched) {
		snap, err := m.snapshotLocked(lp)
		if err != nil {
			return err
		}
		m.hub.publish(snap)
	}
	return nil
}

// encodeValue marshals value; nil and JSON null mean delete.
func encodeValue(value any) (json.RawMessage, bool, error) {
	if value == nil {
		return nil, true, nil
	}
	raw, err := encode(value)
	if err != nil {
		return nil, false, err
	}
	if string(raw) == "null" {
		return nil, true, nil
	}
	return raw, false, nil
}
