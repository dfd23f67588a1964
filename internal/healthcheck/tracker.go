package healthcheck

import (
	"sync"
	"time"
)

// Snapshot describes the latest tick timing details.
type Snapshot struct {
	LastTickTime      *time.Time `json:"last_tick_time"`
	TickDurationMS    int64      `json:"tick_duration_ms"`
	ServicesProbed    int        `json:"services_probed"`
	ActionsDispatched int        `json:"actions_dispatched"`
}

// Tracker records tick timing for the controller's own health endpoints.
type Tracker struct {
	mu                sync.RWMutex
	lastTick          time.Time
	tickDuration      time.Duration
	servicesProbed    int
	actionsDispatched int
	ready             bool
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordTick updates tick timing and readiness.
func (t *Tracker) RecordTick(duration time.Duration, servicesProbed, actionsDispatched int) {
	if t == nil {
		return
	}
	now := time.Now().UTC()
	t.mu.Lock()
	t.lastTick = now
	t.tickDuration = duration
	t.servicesProbed = servicesProbed
	t.actionsDispatched = actionsDispatched
	t.ready = true
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last *time.Time
	if !t.lastTick.IsZero() {
		value := t.lastTick
		last = &value
	}
	return Snapshot{
		LastTickTime:      last,
		TickDurationMS:    int64(t.tickDuration / time.Millisecond),
		ServicesProbed:    t.servicesProbed,
		ActionsDispatched: t.actionsDispatched,
	}
}

// Ready reports whether at least one tick has completed.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Healthy reports whether the last tick completed within 2x the tick interval.
func (t *Tracker) Healthy(now time.Time, tickInterval time.Duration) bool {
	if t == nil {
		return false
	}
	if tickInterval <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastTick.IsZero() {
		return false
	}
	return now.Sub(t.lastTick) <= 2*tickInterval
}
