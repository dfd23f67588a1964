package budget

import (
	"sync"
	"time"

	"github.com/nholik/node-warden/internal/registry"
)

// Tracker counts corrective actions per service inside a rolling wall-clock
// window. The window slides continuously, so budget recovers gradually as old
// actions age out rather than resetting at a boundary.
//
// The tracker is mutated only by the reconciler goroutine that owns the
// current tick, but is safe for concurrent reads from health endpoints.
type Tracker struct {
	mu      sync.Mutex
	history map[string][]time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{history: make(map[string][]time.Time)}
}

// Record appends one corrective action for the service at the given time.
func (t *Tracker) Record(serviceID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history[serviceID] = append(t.history[serviceID], at)
}

// Remaining returns how many actions are still allowed inside the rolling
// window, discarding entries older than the window length.
func (t *Tracker) Remaining(serviceID string, b registry.Budget, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	recent := t.pruneLocked(serviceID, b.Window, now)
	remaining := b.Max - len(recent)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsQuarantined reports whether the budget is exhausted at the given time.
func (t *Tracker) IsQuarantined(serviceID string, b registry.Budget, now time.Time) bool {
	return t.Remaining(serviceID, b, now) == 0
}

// NextFree returns when the oldest in-window action ages out, freeing one
// unit of budget. The zero time means budget is available now.
func (t *Tracker) NextFree(serviceID string, b registry.Budget, now time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	recent := t.pruneLocked(serviceID, b.Window, now)
	if len(recent) < b.Max {
		return time.Time{}
	}
	return recent[0].Add(b.Window)
}

// Reset clears the history for a service. Used when a spec disappears on
// registry reload.
func (t *Tracker) Reset(serviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.history, serviceID)
}

// pruneLocked drops entries older than the window and returns the remainder.
// Entries are appended in wall-clock order, so the slice stays sorted.
func (t *Tracker) pruneLocked(serviceID string, window time.Duration, now time.Time) []time.Time {
	entries := t.history[serviceID]
	cutoff := now.Add(-window)
	keep := 0
	for keep < len(entries) && !entries[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		entries = append([]time.Time(nil), entries[keep:]...)
		if len(entries) == 0 {
			delete(t.history, serviceID)
		} else {
			t.history[serviceID] = entries
		}
	}
	return entries
}
