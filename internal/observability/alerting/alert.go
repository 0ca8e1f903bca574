package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "IntelHive/internal/errors"
	"IntelHive/pkg/logger"
)

// Channel names a notification transport.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSlack   Channel = "slack"
	ChannelWebhook Channel = "webhook"
)

// Event describes one incident worth notifying about, typically a job that
// failed or a stage that could not be submitted.
type Event struct {
	Code          xerrors.Code
	Message       string
	Severity      xerrors.Severity
	JobID         string
	CorrelationID string
	Plugin        string
	Stage         string
	Metadata      map[string]string
	OccurredAt    time.Time
}

// Notifier delivers events over a single channel.
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher broadcasts events to every configured notifier.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher delivers each event to all registered notifiers and
// joins their failures.
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout creates a dispatcher over the given notifiers.
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify implements the Dispatcher interface.
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EmailSender abstracts the outbound mail transport.
type EmailSender interface {
	Send(ctx context.Context, subject, content string, to []string) error
}

// EmailNotifier sends alerts by mail.
type EmailNotifier struct {
	Sender        EmailSender
	To            []string
	SubjectPrefix string
}

// Channel implements the Notifier interface.
func (n *EmailNotifier) Channel() Channel { return ChannelEmail }

// Notify implements the Notifier interface.
func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || len(n.To) == 0 {
		logger.L().Warn("EmailNotifier not configured, skipping", slog.String("job_id", event.JobID))
		return nil
	}
	subject := fmt.Sprintf("%s[%s] %s", n.SubjectPrefix, event.Severity, event.Code)
	content := fmt.Sprintf("time: %s\njob: %s\ncorrelation: %s\nstage: %s\ncode: %s\nmessage: %s",
		event.OccurredAt.Format(time.RFC3339), event.JobID, event.CorrelationID, event.Stage, event.Code, event.Message)
	if event.Plugin != "" {
		content += fmt.Sprintf("\nplugin: %s", event.Plugin)
	}
	if len(event.Metadata) > 0 {
		content += "\ndetails:\n"
		for k, v := range event.Metadata {
			content += fmt.Sprintf("- %s: %s\n", k, v)
		}
	}
	return n.Sender.Send(ctx, subject, content, n.To)
}

// SlackSender abstracts the Slack API client.
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier posts alerts to a Slack channel.
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

// Channel implements the Notifier interface.
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify implements the Notifier interface.
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChannelID == "" {
		logger.L().Warn("SlackNotifier not configured, skipping", slog.String("job_id", event.JobID))
		return nil
	}
	content := fmt.Sprintf("*[%s]* %s - %s (job %s, correlation %s)",
		event.Severity, event.Code, event.Message, event.JobID, event.CorrelationID)
	return n.Sender.Send(ctx, n.ChannelID, content)
}

// WebhookSender abstracts a generic HTTP callback transport.
type WebhookSender interface {
	Send(ctx context.Context, payload map[string]any) error
}

// WebhookNotifier posts alerts to an arbitrary HTTP endpoint.
type WebhookNotifier struct {
	Sender WebhookSender
}

// Channel implements the Notifier interface.
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify implements the Notifier interface.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil {
		logger.L().Warn("WebhookNotifier not configured, skipping", slog.String("job_id", event.JobID))
		return nil
	}
	payload := map[string]any{
		"code":           string(event.Code),
		"message":        event.Message,
		"severity":       string(event.Severity),
		"job_id":         event.JobID,
		"correlation_id": event.CorrelationID,
		"stage":          event.Stage,
		"plugin":         event.Plugin,
		"occurred_at":    event.OccurredAt.Format(time.RFC3339),
	}
	return n.Sender.Send(ctx, payload)
}
