// Package notify delivers submission status messages to submitters.
package notify

import (
	"context"
	"log/slog"
)

// Notifier sends a message to an address. Callers treat delivery as best
// effort.
type Notifier interface {
	Notify(ctx context.Context, address, subject, body string) error
}

// LogNotifier writes notifications to a structured logger instead of
// delivering them.
type LogNotifier struct {
	Logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger}
}

// Notify logs the notification.
func (n *LogNotifier) Notify(_ context.Context, address, subject, body string) error {
	n.Logger.Info("notification", "to", address, "subject", subject, "body", body)
	return nil
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, address, subject, body string) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, address, subject, body string) error {
	return f(ctx, address, subject, body)
}
