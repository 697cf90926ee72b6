package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"meridian.club/internal/ids"
	"meridian.club/internal/obs"
)

const alertTimeout = 5 * time.Second

// Recorder accepts events for the audit trail. Record never fails from the
// caller's point of view; persistence problems are handled inside.
type Recorder interface {
	Record(ctx context.Context, evt Event)
}

// Publisher receives every event after it has been stored.
type Publisher interface {
	Publish(evt Event)
}

// Trail classifies, stamps and stores audit events.
type Trail struct {
	sink      Sink
	alerter   Alerter
	publisher Publisher
	clock     func() time.Time
	ids       *ids.Generator
	logger    *slog.Logger

	alerts sync.WaitGroup
}

// Option configures a Trail.
type Option func(*Trail)

// WithAlerter sets the collaborator notified about CRITICAL events.
func WithAlerter(a Alerter) Option {
	return func(t *Trail) { t.alerter = a }
}

// WithPublisher forwards stored events to p.
func WithPublisher(p Publisher) Option {
	return func(t *Trail) { t.publisher = p }
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(t *Trail) {
		if fn != nil {
			t.clock = fn
		}
	}
}

// WithLogger sets the logger used for fallback and alert failures.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trail) { t.logger = l }
}

// NewTrail builds a trail over sink.
func NewTrail(sink Sink, opts ...Option) (*Trail, error) {
	if sink == nil {
		return nil, errors.New("audit sink is required")
	}
	t := &Trail{
		sink:  sink,
		clock: time.Now,
		ids:   ids.NewGenerator(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = obs.Resolve(t.logger)
	if t.alerter == nil {
		t.alerter = LogAlerter{Logger: t.logger}
	}
	return t, nil
}

// Append stores evt and returns the stored form.
func (t *Trail) Append(ctx context.Context, evt Event) (Event, error) {
	if !evt.Type.Valid() {
		return Event{}, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, evt.Type)
	}
	if evt.Severity != "" && !evt.Severity.Valid() {
		return Event{}, fmt.Errorf("%w: unknown severity %q", ErrInvalidEvent, evt.Severity)
	}
	evt = evt.clone()
	if evt.Metadata.Timestamp.IsZero() {
		evt.Metadata.Timestamp = t.clock()
	}
	// Durable sinks keep microseconds; the returned event must match what a
	// later query sees.
	evt.Metadata.Timestamp = evt.Metadata.Timestamp.UTC().Truncate(time.Microsecond)
	if strings.TrimSpace(evt.ID) == "" {
		evt.ID = t.ids.NewAt(evt.Metadata.Timestamp)
	}
	if evt.Severity == "" {
		evt.Severity = Classify(evt.Resource, evt.Action)
	}
	if rid := RequestIDFromContext(ctx); rid != "" && evt.Metadata.RequestID == "" {
		evt.Metadata.RequestID = rid
	}
	if err := t.sink.Append(ctx, evt); err != nil {
		return Event{}, fmt.Errorf("append audit event: %w", err)
	}
	obs.ObserveAuditEvent(string(evt.Severity))
	if t.publisher != nil {
		t.publisher.Publish(evt.clone())
	}
	if evt.Severity == SeverityCritical {
		t.alert(ctx, evt)
	}
	return evt, nil
}

// alert notifies without making the caller wait.
func (t *Trail) alert(ctx context.Context, evt Event) {
	t.alerts.Add(1)
	go func() {
		defer t.alerts.Done()
		defer func() {
			if r := recover(); r != nil {
				obs.ObserveAlert(false)
				t.logger.Error("audit_alert_panic", "event_id", evt.ID, "error", fmt.Sprint(r))
			}
		}()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
		defer cancel()
		if err := t.alerter.Alert(actx, evt.clone()); err != nil {
			obs.ObserveAlert(false)
			t.logger.Error("audit_alert_failed", "event_id", evt.ID, "error", err)
			return
		}
		obs.ObserveAlert(true)
	}()
}

// WaitAlerts blocks until in-flight alert notifications finish.
func (t *Trail) WaitAlerts() {
	t.alerts.Wait()
}

// Drain waits for in-flight alert notifications until ctx ends.
func (t *Trail) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.alerts.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record appends synchronously and diverts failures to the fallback log.
func (t *Trail) Record(ctx context.Context, evt Event) {
	if _, err := t.Append(ctx, evt); err != nil {
		LogFallback(ctx, t.logger, evt, "append_failed", err)
	}
}

// Query returns matching events, newest first.
func (t *Trail) Query(ctx context.Context, q Query) ([]Event, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	return t.sink.Query(ctx, q)
}

// Export serializes exactly what Query returns for q.
func (t *Trail) Export(ctx context.Context, q Query) ([]byte, error) {
	events, err := t.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return EncodeCSV(events)
}
