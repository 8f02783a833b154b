// Package realtime implements the path-addressed document store that holds
// faculty status, display names, waiting counters and subscription markers.
//
// Values live at leaf paths such as "faculty/C101". Reading or subscribing
// to an inner path ("faculty") yields the JSON object assembled from every
// leaf below it. Writing a path replaces its whole subtree and removes any
// leaf stored at one of its ancestors.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// maxTransactionRetries bounds optimistic transaction attempts.
const maxTransactionRetries = 25

var (
	// ErrInvalidPath is returned for empty paths or paths with empty segments.
	ErrInvalidPath = errors.New("realtime: invalid path")
	// ErrTooManyRetries is returned when a transaction kept conflicting.
	ErrTooManyRetries = errors.New("realtime: transaction retried too many times")
	// ErrClosed is returned by stores that have been closed.
	ErrClosed = errors.New("realtime: store closed")
)

// Snapshot is the value of a path at one point in time.
type Snapshot struct {
	Path   string
	Exists bool
	Raw    json.RawMessage
}

// Decode unmarshals the snapshot value into v. A missing value leaves v untouched.
func (s Snapshot) Decode(v any) error {
	if !s.Exists {
		return nil
	}
	return json.Unmarshal(s.Raw, v)
}

// Listener receives snapshots of a subscribed path.
type Listener func(Snapshot)

// Unsubscribe detaches a listener. It is safe to call more than once.
// Deliveries queued after it returns are dropped, but a callback that was
// already being dispatched when it was called may still run once. Called
// from inside the listener it takes effect before the next delivery.
type Unsubscribe func()

// UpdateFunc computes the new value of a path from its current snapshot.
// Returning a nil value deletes the path; returning an error aborts the
// transaction without writing.
type UpdateFunc func(current Snapshot) (any, error)

// Store is the contract of the realtime state store.
type Store interface {
	// Subscribe delivers the current value of path and every later change
	// to it. Deliveries are asynchronous and ordered.
	Subscribe(path string, fn Listener) (Unsubscribe, error)
	// Get reads the current value of path.
	Get(ctx context.Context, path string) (Snapshot, error)
	// Set writes value at path unconditionally. A nil value deletes it.
	Set(ctx context.Context, path string, value any) error
	// Transaction atomically replaces the value at path with the result of
	// update, retrying when a concurrent write changed it in between.
	Transaction(ctx context.Context, path string, update UpdateFunc) error
}

// Join builds a store path from its segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func cleanPath(path string) (string, error) {
	p := strings.Trim(path, "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			return "", ErrInvalidPath
		}
	}
	return p, nil
}

// ancestors returns every proper ancestor of path, nearest first.
func ancestors(path string) []string {
	var out []string
	for i := strings.LastIndexByte(path, '/'); i > 0; i = strings.LastIndexByte(path[:i], '/') {
		out = append(out, path[:i])
	}
	return out
}

// related reports whether a write at b is visible to a reader of a.
func related(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func encode(value any) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(value)
}
