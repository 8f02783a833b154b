package watch

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"faculty-status-backend/internal/facultycache"
	"faculty-status-backend/internal/notification"
	"faculty-status-backend/internal/realtime"
)

// Registry keeps the live sessions. Sessions that are not touched for the
// idle TTL are evicted and closed unless the keep-alive check holds them.
type Registry struct {
	cache    *facultycache.Cache
	store    realtime.Store
	notifier notification.Notifier
	sessions *cache.Cache

	mu        sync.RWMutex
	onView    ViewListener
	keepAlive func(id string) bool
	live      map[string]*Session
	ending    map[string]bool
	closed    bool
}

// NewRegistry creates a registry whose sessions share fc and store.
func NewRegistry(store realtime.Store, fc *facultycache.Cache, notifier notification.Notifier, idleTTL time.Duration) *Registry {
	cleanup := idleTTL / 2
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	r := &Registry{
		cache:    fc,
		store:    store,
		notifier: notifier,
		sessions: cache.New(idleTTL, cleanup),
		live:     make(map[string]*Session),
		ending:   make(map[string]bool),
	}
	r.sessions.OnEvicted(r.evicted)
	return r
}

func (r *Registry) evicted(id string, v interface{}) {
	s, ok := v.(*Session)
	if !ok {
		return
	}

	r.mu.Lock()
	ending := r.ending[id] || r.closed
	delete(r.ending, id)
	keepAlive := r.keepAlive
	r.mu.Unlock()

	if !ending && keepAlive != nil && keepAlive(id) {
		r.sessions.Set(id, s, cache.DefaultExpiration)
		return
	}
	r.mu.Lock()
	delete(r.live, id)
	r.mu.Unlock()
	log.Printf("Closing watch session %s", id)
	s.Close()
}

// SetKeepAlive installs fn, asked whenever a session goes idle. Sessions
// for which it reports true stay open for another idle TTL.
func (r *Registry) SetKeepAlive(fn func(id string) bool) {
	r.mu.Lock()
	r.keepAlive = fn
	r.mu.Unlock()
}

// SetViewListener installs fn on sessions created afterwards.
func (r *Registry) SetViewListener(fn ViewListener) {
	r.mu.Lock()
	r.onView = fn
	r.mu.Unlock()
}

// Create starts a new session with a fresh id.
func (r *Registry) Create() *Session {
	r.mu.RLock()
	onView := r.onView
	r.mu.RUnlock()

	s := NewSession(uuid.NewString(), r.cache, r.store, r.notifier, onView)
	r.mu.Lock()
	r.live[s.ID()] = s
	r.mu.Unlock()
	r.sessions.Set(s.ID(), s, cache.DefaultExpiration)
	return s
}

// Get returns the session and extends its lifetime. A session past its
// idle TTL is still found while the keep-alive check holds it.
func (r *Registry) Get(id string) (*Session, bool) {
	if v, ok := r.sessions.Get(id); ok {
		s := v.(*Session)
		r.sessions.Set(id, s, cache.DefaultExpiration)
		return s, true
	}

	r.mu.RLock()
	s, ok := r.live[id]
	keepAlive := r.keepAlive
	r.mu.RUnlock()
	if !ok || s.ctx.Err() != nil || keepAlive == nil || !keepAlive(id) {
		return nil, false
	}
	r.sessions.Set(id, s, cache.DefaultExpiration)
	return s, true
}

// Delete ends the session. It reports whether the session existed.
func (r *Registry) Delete(id string) bool {
	if _, ok := r.Get(id); !ok {
		return false
	}
	r.mu.Lock()
	r.ending[id] = true
	r.mu.Unlock()

	r.sessions.Delete(id)

	r.mu.Lock()
	delete(r.ending, id)
	r.mu.Unlock()
	return true
}

// Len returns the number of live sessions, expired ones included until
// the next cleanup.
func (r *Registry) Len() int {
	return r.sessions.ItemCount()
}

// Close ends every session.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.sessions.DeleteExpired()
	for id := range r.sessions.Items() {
		r.sessions.Delete(id)
	}
}
