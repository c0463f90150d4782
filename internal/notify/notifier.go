// Package notify alerts operators through chat webhooks when settlement
// reconciliation needs attention. Each alert carries an event type and only
// configured event types are delivered.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event types raised by the service.
const (
	// EventReconcileFailed fires when a post-sale side effect exhausts its retries.
	EventReconcileFailed = "reconcile_failed"
	// EventWatcherDown fires when the Sold subscription cannot be established.
	EventWatcherDown = "watcher_down"
	// EventExportFailed fires when a ledger export batch cannot be uploaded.
	EventExportFailed = "export_failed"
)

// Sender delivers one alert over a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every Sender, filtered by event type.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list lets every event through.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the alert to every sender if event is enabled. One sender
// failing does not stop delivery to the rest; all failures are returned.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if n == nil || len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
