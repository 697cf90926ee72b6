package audit

import (
	"context"
	"log/slog"

	"meridian.club/internal/obs"
)

// Alerter is notified about CRITICAL events. Delivery (email, pager) lives
// outside the core.
type Alerter interface {
	Alert(ctx context.Context, evt Event) error
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(ctx context.Context, evt Event) error

func (f AlerterFunc) Alert(ctx context.Context, evt Event) error { return f(ctx, evt) }

// LogAlerter reports critical events on the structured log.
type LogAlerter struct {
	Logger *slog.Logger
}

func (a LogAlerter) Alert(ctx context.Context, evt Event) error {
	obs.Resolve(a.Logger).LogAttrs(ctx, slog.LevelError, "audit_critical_event",
		slog.String("event_id", evt.ID),
		slog.String("event_type", string(evt.Type)),
		slog.String("caller_id", evt.CallerID),
		slog.String("resource", string(evt.Resource)),
		slog.String("action", string(evt.Action)),
		slog.Bool("success", evt.Success),
	)
	return nil
}
