// Package subscription records a student's wish to be told when a faculty
// member becomes available and fulfils it on the next availability edge.
package subscription

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"faculty-status-backend/internal/facultycache"
	"faculty-status-backend/internal/model"
	"faculty-status-backend/internal/notification"
	"faculty-status-backend/internal/realtime"
)

// Manager owns one session's local subscription set.
type Manager struct {
	store     realtime.Store
	notifier  notification.Notifier
	sessionID string
	newToken  func() string

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewManager creates a manager for sessionID. notifier may be nil.
func NewManager(store realtime.Store, notifier notification.Notifier, sessionID string) *Manager {
	return &Manager{
		store:     store,
		notifier:  notifier,
		sessionID: sessionID,
		newToken:  uuid.NewString,
		pending:   make(map[string]struct{}),
	}
}

// Subscribe records a subscription marker for cabinID and increments its
// waiting counter. It reports true only when both writes succeeded; only
// then is the cabin added to the local set.
func (m *Manager) Subscribe(ctx context.Context, cabinID string) bool {
	if cabinID == "" {
		return false
	}

	token := m.newToken()
	if err := m.store.Set(ctx, realtime.Join(model.PathStudentSubs, cabinID, token), true); err != nil {
		log.Printf("Error recording subscription to %s: %v", cabinID, err)
		return false
	}

	if err := m.store.Transaction(ctx, realtime.Join(model.PathSubsCount, cabinID), increment); err != nil {
		log.Printf("Error incrementing wait count for %s: %v", cabinID, err)
		return false
	}

	m.mu.Lock()
	m.pending[cabinID] = struct{}{}
	m.mu.Unlock()
	return true
}

func increment(current realtime.Snapshot) (any, error) {
	var n int
	if err := current.Decode(&n); err != nil {
		return nil, fmt.Errorf("decode wait count: %w", err)
	}
	if n < 0 {
		n = 0
	}
	return n + 1, nil
}

// HandleTransitions fulfils the subscriptions of every cabin in ids that is
// in the local set: the cabin's waiting counter is reset, a notification
// is sent and the cabin leaves the set. Other ids are ignored.
func (m *Manager) HandleTransitions(ctx context.Context, ids []string, view facultycache.View) {
	for _, id := range ids {
		if !m.take(id) {
			continue
		}

		if view.WaitCounts[id] > 0 {
			if err := m.store.Set(ctx, realtime.Join(model.PathSubsCount, id), 0); err != nil {
				log.Printf("Error resetting wait count for %s: %v", id, err)
			}
		}

		if m.notifier != nil {
			ev := notification.NewEvent(m.sessionID, id, view.Name(id))
			if err := m.notifier.Notify(ctx, ev); err != nil {
				log.Printf("Error notifying session %s about %s: %v", m.sessionID, id, err)
			}
		}
	}
}

// take removes id from the local set, reporting whether it was there.
func (m *Manager) take(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[id]; !ok {
		return false
	}
	delete(m.pending, id)
	return true
}

// IsSubscribed reports whether cabinID is in the local set.
func (m *Manager) IsSubscribed(cabinID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[cabinID]
	return ok
}

// Pending returns the local set in sorted order.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear empties the local set. Remote counters are left as they are.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.pending = make(map[string]struct{})
	m.mu.Unlock()
}
