package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// DryRunNotifier logs escalations without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger) *DryRunNotifier {
	return &DryRunNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, event Event) error {
	n.logger.Info().
		Str("service", event.ServiceID).
		Str("status", string(event.Status)).
		Int("consecutive_failures", event.ConsecutiveFailures).
		Str("reason", event.Reason).
		Msg("[DRY-RUN] Would escalate")
	return nil
}
