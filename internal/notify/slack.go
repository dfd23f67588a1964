package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/nholik/node-warden/internal/health"
)

// SlackNotifier posts escalation events to a Slack incoming webhook.
type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	timing     timingConfig
	poster     *httpPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the
// webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; escalations logged only")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if err := n.poster.waitForRateLimit(ctx, event.ServiceID); err != nil {
		return err
	}

	payload, err := json.Marshal(buildSlackMessage(event))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	if err := n.poster.postWithRetry(ctx, payload); err != nil {
		return err
	}

	n.logger.Debug().
		Str("service", event.ServiceID).
		Str("status", string(event.Status)).
		Msg("slack escalation sent")

	return nil
}

func buildSlackMessage(event Event) slack.WebhookMessage {
	summary := fmt.Sprintf("%s service %s is %s", statusEmoji(event.Status), event.ServiceID, event.Status)
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Reason:*\n%s", event.Reason), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Consecutive failures:*\n%d", event.ConsecutiveFailures), false, false),
	}
	if event.Detail != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Detail:*\n%s", event.Detail), false, false))
	}
	section := slack.NewSectionBlock(
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*%s*: `%s`", event.ServiceID, event.Status), false, false),
		fields, nil)

	contextBlock := slack.NewContextBlock("",
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("node-warden • %s", event.At.UTC().Format(time.RFC3339)), false, false))

	blockSet := slack.Blocks{BlockSet: []slack.Block{header, section, contextBlock}}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func statusEmoji(status health.Status) string {
	switch status {
	case health.StatusDown:
		return ":red_circle:"
	case health.StatusQuarantined:
		return ":no_entry:"
	case health.StatusDegraded:
		return ":warning:"
	default:
		return ":grey_question:"
	}
}
