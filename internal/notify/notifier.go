// Package notify delivers position alerts to chat channels. A Notifier fans
// one Message out to every configured Sender, filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Field is one labelled line of a message. Code fields hold addresses or
// transaction references and are rendered monospace.
type Field struct {
	Label string
	Value string
	Code  bool
}

// Message is a channel-neutral notification.
type Message struct {
	Event    string
	Title    string
	Fields   []Field
	Footer   string
	Positive bool // drives the colour or emoji where the channel has one
}

// Sender is implemented once per chat channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier dispatches messages to all senders. When events is non-empty only
// those event types are forwarded.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
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

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Notify sends msg to every sender. A failing sender does not stop delivery
// to the others; the failures are returned joined.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[msg.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", msg.Event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", msg.Event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d of %d sender(s) failed: %w", len(errs), len(n.senders), errors.Join(errs...))
	}
	return nil
}
