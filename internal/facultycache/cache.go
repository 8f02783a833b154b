// Package facultycache mirrors the faculty, facultyConfig and subsCount
// collections of the realtime store in process memory.
package facultycache

import (
	"fmt"
	"log"
	"sync"

	"faculty-status-backend/internal/model"
	"faculty-status-backend/internal/realtime"
)

// Collection names one of the mirrored collections.
type Collection string

const (
	CollectionStatus     Collection = model.PathFaculty
	CollectionConfig     Collection = model.PathFacultyConfig
	CollectionWaitCounts Collection = model.PathSubsCount
)

// View is a consistent copy of the cache contents.
type View struct {
	Statuses   map[string]model.FacultyStatus
	Names      map[string]string
	WaitCounts map[string]int
	Loading    bool
	// Changed is the collection whose update produced this view.
	Changed Collection
}

// Name returns the display name of a cabin, falling back to its id.
func (v View) Name(cabinID string) string {
	if name := v.Names[cabinID]; name != "" {
		return name
	}
	return cabinID
}

// Observer is called with a fresh view after every collection update.
type Observer func(View)

// Cache holds the latest snapshot of each collection.
type Cache struct {
	mu           sync.RWMutex
	statuses     map[string]model.FacultyStatus
	names        map[string]string
	waitCounts   map[string]int
	statusLoaded bool
	configLoaded bool
	ready        chan struct{}
	readyOnce    sync.Once

	obsMu     sync.Mutex
	nextObs   int
	observers map[int]Observer

	unsubs []realtime.Unsubscribe
}

// New creates a cache that is not yet connected to a store.
func New() *Cache {
	return &Cache{
		statuses:   make(map[string]model.FacultyStatus),
		names:      make(map[string]string),
		waitCounts: make(map[string]int),
		ready:      make(chan struct{}),
		observers:  make(map[int]Observer),
	}
}

// Start subscribes the cache to the three collections of store.
func (c *Cache) Start(store realtime.Store) error {
	subs := []struct {
		path string
		fn   realtime.Listener
	}{
		{model.PathFaculty, c.onStatus},
		{model.PathFacultyConfig, c.onConfig},
		{model.PathSubsCount, c.onWaitCounts},
	}
	for _, s := range subs {
		unsub, err := store.Subscribe(s.path, s.fn)
		if err != nil {
			c.Close()
			return fmt.Errorf("subscribe %s: %w", s.path, err)
		}
		c.unsubs = append(c.unsubs, unsub)
	}
	return nil
}

// Close detaches the cache from the store.
func (c *Cache) Close() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}

// Loading reports whether the status or config collection is still missing.
func (c *Cache) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !(c.statusLoaded && c.configLoaded)
}

// Ready is closed once both status and config have been received.
func (c *Cache) Ready() <-chan struct{} {
	return c.ready
}

// View returns a copy of the current contents.
func (c *Cache) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewLocked("")
}

// OnChange registers an observer and returns a handle that removes it.
func (c *Cache) OnChange(fn Observer) realtime.Unsubscribe {
	_, unobserve := c.Observe(fn)
	return unobserve
}

// Observe registers fn and returns the view it starts from. Every update
// not reflected in that view reaches fn; an update racing the registration
// may be reported both ways.
func (c *Cache) Observe(fn Observer) (View, realtime.Unsubscribe) {
	c.mu.RLock()
	v := c.viewLocked("")
	c.obsMu.Lock()
	c.nextObs++
	id := c.nextObs
	c.observers[id] = fn
	c.obsMu.Unlock()
	c.mu.RUnlock()

	return v, func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

func (c *Cache) onStatus(snap realtime.Snapshot) {
	statuses := make(map[string]model.FacultyStatus)
	if err := snap.Decode(&statuses); err != nil {
		log.Printf("Warning: ignoring undecodable faculty snapshot: %v", err)
		return
	}
	c.update(CollectionStatus, func() {
		c.statuses = statuses
		c.statusLoaded = true
	})
}

func (c *Cache) onConfig(snap realtime.Snapshot) {
	names := make(map[string]string)
	if err := snap.Decode(&names); err != nil {
		log.Printf("Warning: ignoring undecodable facultyConfig snapshot: %v", err)
		return
	}
	c.update(CollectionConfig, func() {
		c.names = names
		c.configLoaded = true
	})
}

func (c *Cache) onWaitCounts(snap realtime.Snapshot) {
	counts := make(map[string]int)
	if err := snap.Decode(&counts); err != nil {
		log.Printf("Warning: ignoring undecodable subsCount snapshot: %v", err)
		return
	}
	for id, n := range counts {
		if n < 0 {
			counts[id] = 0
		}
	}
	c.update(CollectionWaitCounts, func() {
		c.waitCounts = counts
	})
}

func (c *Cache) update(changed Collection, apply func()) {
	c.mu.Lock()
	apply()
	view := c.viewLocked(changed)
	c.mu.Unlock()

	if !view.Loading {
		c.readyOnce.Do(func() { close(c.ready) })
	}

	c.obsMu.Lock()
	observers := make([]Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range observers {
		fn(view)
	}
}

func (c *Cache) viewLocked(changed Collection) View {
	v := View{
		Statuses:   make(map[string]model.FacultyStatus, len(c.statuses)),
		Names:      make(map[string]string, len(c.names)),
		WaitCounts: make(map[string]int, len(c.waitCounts)),
		Loading:    !(c.statusLoaded && c.configLoaded),
		Changed:    changed,
	}
	for k, s := range c.statuses {
		v.Statuses[k] = s
	}
	for k, n := range c.names {
		v.Names[k] = n
	}
	for k, n := range c.waitCounts {
		v.WaitCounts[k] = n
	}
	return v
}
