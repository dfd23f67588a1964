package reconcile

import (
	"time"

	"github.com/nholik/node-warden/internal/action"
	"github.com/nholik/node-warden/internal/health"
)

// runtimeState is the mutable per-service record owned exclusively by the
// reconciler goroutine that runs the current tick. It is created at registry
// load with Unknown status and never destroyed while the process runs; the
// audit log, not this struct, is the durable record.
type runtimeState struct {
	status              health.Status
	consecutiveFailures int
	// escalated latches once a failure streak has been notified, so repeated
	// ticks inside the same streak cannot re-fire the notifier.
	escalated    bool
	lastProbeAt  time.Time
	lastActionAt time.Time
	lastDetail   string
	history      []historyEntry
}

type historyEntry struct {
	at   time.Time
	kind action.Kind
	ok   bool
}

func newRuntimeState() *runtimeState {
	return &runtimeState{status: health.StatusUnknown}
}

// markHealthy ends any failure streak.
func (s *runtimeState) markHealthy() {
	s.status = health.StatusHealthy
	s.consecutiveFailures = 0
	s.escalated = false
}

func (s *runtimeState) recordAction(at time.Time, kind action.Kind, ok bool, window time.Duration) {
	s.lastActionAt = at
	s.history = append(s.history, historyEntry{at: at, kind: kind, ok: ok})

	// prune to the budget window; history mirrors what the tracker counts
	cutoff := at.Add(-window)
	keep := 0
	for keep < len(s.history) && !s.history[keep].at.After(cutoff) {
		keep++
	}
	if keep > 0 {
		s.history = append([]historyEntry(nil), s.history[keep:]...)
	}
}

// Snapshot is a read-only view of one service's runtime state.
type Snapshot struct {
	ServiceID           string
	Status              health.Status
	ConsecutiveFailures int
	LastProbeAt         time.Time
	LastActionAt        time.Time
	Detail              string
}
