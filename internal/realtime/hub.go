package realtime

import (
	"sync"
	"sync/atomic"
)

type listener struct {
	id     uint64
	path   string
	fn     Listener
	active atomic.Bool
	last   Snapshot
	primed bool
}

type delivery struct {
	l    *listener
	snap Snapshot
}

// hub fans snapshots out to listeners from a single dispatch goroutine so
// that callbacks never run on the writer's goroutine and see changes in
// commit order. Callbacks may write back to the store.
type hub struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]*listener
	queue     []delivery
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newHub() *hub {
	h := &hub{
		listeners: make(map[uint64]*listener),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go h.dispatch()
	return h
}

// add registers fn on path and queues its initial snapshot.
func (h *hub) add(path string, fn Listener, initial Snapshot) Unsubscribe {
	h.mu.Lock()
	h.nextID++
	l := &listener{id: h.nextID, path: path, fn: fn}
	l.active.Store(true)
	h.listeners[l.id] = l
	h.enqueueLocked(l, initial)
	h.mu.Unlock()
	h.signal()

	return func() {
		l.active.Store(false)
		h.mu.Lock()
		delete(h.listeners, l.id)
		h.mu.Unlock()
	}
}

// affected returns the distinct listener paths that observe any of touched.
func (h *hub) affected(touched []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, l := range h.listeners {
		if seen[l.path] {
			continue
		}
		for _, t := range touched {
			if related(l.path, t) {
				seen[l.path] = true
				out = append(out, l.path)
				break
			}
		}
	}
	return out
}

// paths returns the distinct paths that currently have listeners.
func (h *hub) paths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, l := range h.listeners {
		if !seen[l.path] {
			seen[l.path] = true
			out = append(out, l.path)
		}
	}
	return out
}

// publish queues snap for every listener on snap.Path whose last delivered
// value differs.
func (h *hub) publish(snap Snapshot) {
	h.mu.Lock()
	for _, l := range h.listeners {
		if l.path == snap.Path {
			h.enqueueLocked(l, snap)
		}
	}
	h.mu.Unlock()
	h.signal()
}

func (h *hub) enqueueLocked(l *listener, snap Snapshot) {
	if l.primed && sameSnapshot(l.last, snap) {
		return
	}
	l.last = snap
	l.primed = true
	h.queue = append(h.queue, delivery{l: l, snap: snap})
}

func (h *hub) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *hub) dispatch() {
	for {
		select {
		case <-h.done:
			return
		case <-h.wake:
		}

		for {
			h.mu.Lock()
			batch := h.queue
			h.queue = nil
			h.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, d := range batch {
				if d.l.active.Load() {
					d.l.fn(d.snap)
				}
			}
		}
	}
}

func (h *hub) close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}
