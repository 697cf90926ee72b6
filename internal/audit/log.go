package audit

import (
	"context"
	"log/slog"
	"strings"

	"meridian.club/internal/auth"
	"meridian.club/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogFallback writes an event that could not be stored to the local log so
// it is not lost silently.
func LogFallback(ctx context.Context, logger *slog.Logger, evt Event, cause string, err error) {
	obs.ObserveAuditDropped(cause)
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("cause", cause),
		slog.String("event_type", string(evt.Type)),
		slog.String("severity", string(evt.Severity)),
		slog.String("caller_id", evt.CallerID),
		slog.String("caller_role", string(evt.CallerRole)),
		slog.String("resource", string(evt.Resource)),
		slog.String("action", string(evt.Action)),
		slog.String("resource_id", evt.ResourceID),
		slog.Bool("success", evt.Success),
		slog.Any("details", evt.Details),
	}
	if !evt.Metadata.Timestamp.IsZero() {
		attrs = append(attrs, slog.Time("occurred_at", evt.Metadata.Timestamp))
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		attrs = append(attrs, slog.String("user_id", id.ID))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	obs.Resolve(logger).LogAttrs(ctx, slog.LevelWarn, "audit_fallback", attrs...)
}
