// Package watch hosts one availability pipeline per connected client: the
// shared faculty cache feeds a private transition detector whose edges are
// handed to the client's subscription manager.
package watch

import (
	"context"
	"sync"

	"faculty-status-backend/internal/facultycache"
	"faculty-status-backend/internal/model"
	"faculty-status-backend/internal/notification"
	"faculty-status-backend/internal/realtime"
	"faculty-status-backend/internal/subscription"
	"faculty-status-backend/internal/transition"
)

// ViewListener is told about every cache change a session observes.
type ViewListener func(s *Session, v facultycache.View)

// Session is one client's watch state.
type Session struct {
	id       string
	detector *transition.Detector
	manager  *subscription.Manager
	onView   ViewListener

	ctx       context.Context
	cancel    context.CancelFunc
	unobserve realtime.Unsubscribe
	closeOnce sync.Once

	// handleMu serializes handle with priming and Close.
	handleMu sync.Mutex

	mu      sync.RWMutex
	faculty []model.Faculty
}

// NewSession starts a session on cache. The detector is primed with the
// current statuses so that cabins already available do not count as
// transitions.
func NewSession(id string, cache *facultycache.Cache, store realtime.Store, notifier notification.Notifier, onView ViewListener) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       id,
		detector: transition.NewDetector(),
		manager:  subscription.NewManager(store, notifier, id),
		onView:   onView,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.handleMu.Lock()
	initial, unobserve := cache.Observe(s.handle)
	s.unobserve = unobserve
	s.detector.Detect(initial.Statuses)
	s.handleMu.Unlock()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Subscribe asks to be notified the next time cabinID becomes available.
func (s *Session) Subscribe(ctx context.Context, cabinID string) bool {
	return s.manager.Subscribe(ctx, cabinID)
}

// IsSubscribed reports whether a notification for cabinID is pending.
func (s *Session) IsSubscribed(cabinID string) bool {
	return s.manager.IsSubscribed(cabinID)
}

// Pending lists the cabins with a pending notification.
func (s *Session) Pending() []string {
	return s.manager.Pending()
}

// SetFaculty stores the student's personalized faculty list.
func (s *Session) SetFaculty(faculty []model.Faculty) {
	s.mu.Lock()
	s.faculty = append([]model.Faculty(nil), faculty...)
	s.mu.Unlock()
}

// Faculty returns the personalized faculty list.
func (s *Session) Faculty() []model.Faculty {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Faculty(nil), s.faculty...)
}

// Close stops observing the cache and drops the local subscription set.
// It waits for a change being handled; none is handled afterwards.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.unobserve()
		s.handleMu.Lock()
		s.cancel()
		s.handleMu.Unlock()
		s.manager.Clear()
	})
}

func (s *Session) handle(v facultycache.View) {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	ids := s.detector.Detect(v.Statuses)
	s.manager.HandleTransitions(s.ctx, ids, v)
	if s.onView != nil {
		s.onView(s, v)
	}
}
