// Package transition finds cabins that have just become available.
package transition

import (
	"sort"
	"sync"

	"faculty-status-backend/internal/model"
)

// Detector remembers the previous status snapshot and reports edges into
// AVAILABLE.
type Detector struct {
	mu       sync.Mutex
	previous map[string]model.Status
}

// NewDetector returns a detector with an empty previous snapshot.
func NewDetector() *Detector {
	return &Detector{previous: make(map[string]model.Status)}
}

// Detect returns the cabin ids that are AVAILABLE in statuses but were not
// in the previous snapshot, then stores statuses as the new previous
// snapshot. Ids absent from statuses are never reported.
func (d *Detector) Detect(statuses map[string]model.FacultyStatus) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var became []string
	next := make(map[string]model.Status, len(statuses))
	for id, s := range statuses {
		next[id] = s.Status
		if s.Status == model.StatusAvailable && d.previous[id] != model.StatusAvailable {
			became = append(became, id)
		}
	}
	d.previous = next

	sort.Strings(became)
	return became
}

// Reset forgets the previous snapshot.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.previous = make(map[string]model.Status)
	d.mu.Unlock()
}
