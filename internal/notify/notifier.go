package notify

import (
	"context"
	"time"

	"github.com/nholik/node-warden/internal/health"
)

// Event is a single escalation: a service crossed its failure threshold or
// exhausted its restart budget.
type Event struct {
	ServiceID           string        `json:"service_id"`
	Status              health.Status `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	// Reason says why the escalation fired (failure streak, budget exhausted).
	Reason string    `json:"reason"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Notifier delivers escalation events to external systems. Delivery is
// best-effort: callers log and swallow errors and never retry synchronously
// beyond the notifier's own bounded policy.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
