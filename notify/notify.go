// Package notify is the user-visible notification port. The scheduling
// layer calls through the Notifier interface so its logic is testable with
// a fake; production wires the slog notifier, the webhook notifier, or both.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Notice is a user-visible message.
type Notice struct {
	Title string    `json:"title"`
	Body  string    `json:"body"`
	At    time.Time `json:"at"`
}

// Notifier delivers notices. Fire-and-forget: callers log delivery errors
// and move on, they never fail an attempt over one.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// LogNotifier writes notices to the log. The default when nothing else is
// configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the notice at warn level.
func (l *LogNotifier) Notify(ctx context.Context, n Notice) error {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log.WarnContext(ctx, "notify: "+n.Title, "body", n.Body)
	return nil
}

// Multi fans a notice out to several notifiers, returning the first error
// after attempting all of them.
type Multi []Notifier

// Notify delivers to every notifier.
func (m Multi) Notify(ctx context.Context, n Notice) error {
	var first error
	for _, nf := range m {
		if err := nf.Notify(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
