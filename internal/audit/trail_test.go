package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meridian.club/internal/auth"
	"meridian.club/internal/obs"
)

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestTrail(t *testing.T, opts ...Option) (*Trail, *MemorySink) {
	t.Helper()
	sink := NewMemorySink()
	trail, err := NewTrail(sink, opts...)
	require.NoError(t, err)
	return trail, sink
}

func TestClassify(t *testing.T) {
	cases := []struct {
		resource auth.Resource
		action   auth.Action
		want     Severity
	}{
		{auth.ResourceUsers, auth.ActionDelete, SeverityCritical},
		{auth.ResourceTransactions, auth.ActionApprove, SeverityCritical},
		{auth.ResourcePayments, auth.ActionReject, SeverityCritical},
		{auth.ResourceSystemSettings, auth.ActionRead, SeverityHigh},
		{auth.ResourceOpportunities, auth.ActionApprove, SeverityHigh},
		{auth.ResourceInvestments, auth.ActionCreate, SeverityMedium},
		{auth.ResourceUserProfile, auth.ActionUpdate, SeverityMedium},
		{auth.ResourceLotteries, auth.ActionRead, SeverityLow},
		{auth.ResourceSupportTickets, auth.ActionAssign, SeverityLow},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Classify(tc.resource, tc.action), "%s %s", tc.resource, tc.action)
	}
	require.True(t, IsSensitive(auth.ResourceUsers, auth.ActionRead))
	require.False(t, IsSensitive(auth.ResourceLotteries, auth.ActionCreate))
}

func TestClassifyIsDeterministic(t *testing.T) {
	for _, res := range auth.Resources {
		for _, act := range auth.Actions {
			first := Classify(res, act)
			require.True(t, first.Valid())
			require.Equal(t, first, Classify(res, act))
		}
	}
}

func TestAppendStampsEvent(t *testing.T) {
	trail, sink := newTestTrail(t, WithClock(func() time.Time { return base }))
	ctx := WithRequestID(context.Background(), "req-1")

	evt, err := trail.Append(ctx, Event{
		Type:     EventAccessDenied,
		CallerID: "u1",
		Resource: auth.ResourceUsers,
		Action:   auth.ActionDelete,
		Details:  map[string]any{"reason": "permission_denied"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, evt.ID)
	require.Equal(t, base, evt.Metadata.Timestamp)
	require.Equal(t, SeverityCritical, evt.Severity)
	require.Equal(t, "req-1", evt.Metadata.RequestID)
	require.Equal(t, 1, sink.Len())
	trail.WaitAlerts()
}

func TestAppendKeepsExplicitSeverityAndTimestamp(t *testing.T) {
	trail, _ := newTestTrail(t)
	at := base.Add(-time.Hour)
	evt, err := trail.Append(context.Background(), Event{
		Type:     EventSuspiciousActivity,
		Severity: SeverityHigh,
		Resource: auth.ResourceLotteries,
		Action:   auth.ActionRead,
		Metadata: Metadata{Timestamp: at},
	})
	require.NoError(t, err)
	require.Equal(t, SeverityHigh, evt.Severity)
	require.Equal(t, at, evt.Metadata.Timestamp)
}

func TestAppendRejectsUnknownType(t *testing.T) {
	trail, sink := newTestTrail(t)
	_, err := trail.Append(context.Background(), Event{Type: "MAGIC"})
	require.ErrorIs(t, err, ErrInvalidEvent)
	_, err = trail.Append(context.Background(), Event{Type: EventAccessGranted, Severity: "URGENT"})
	require.ErrorIs(t, err, ErrInvalidEvent)
	require.Zero(t, sink.Len())
}

func TestAppendIsolatesCallerDetails(t *testing.T) {
	trail, _ := newTestTrail(t)
	details := map[string]any{"k": "v"}
	_, err := trail.Append(context.Background(), Event{Type: EventSettingsUpdated, Details: details})
	require.NoError(t, err)
	details["k"] = "changed"

	got, err := trail.Query(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "v", got[0].Details["k"])

	got[0].Details["k"] = "mutated"
	again, err := trail.Query(context.Background(), Query{})
	require.NoError(t, err)
	require.Equal(t, "v", again[0].Details["k"])
}

func TestQueryStartFilterNewestFirst(t *testing.T) {
	trail, _ := newTestTrail(t)
	ctx := context.Background()
	t1, t2, t3 := base, base.Add(time.Minute), base.Add(2*time.Minute)
	for _, ts := range []time.Time{t1, t2, t3} {
		_, err := trail.Append(ctx, Event{Type: EventAccessGranted, Resource: auth.ResourceLotteries, Action: auth.ActionRead, Metadata: Metadata{Timestamp: ts}})
		require.NoError(t, err)
	}

	got, err := trail.Query(ctx, Query{Start: t2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, t3, got[0].Metadata.Timestamp)
	require.Equal(t, t2, got[1].Metadata.Timestamp)

	got, err = trail.Query(ctx, Query{Start: t1, End: t2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, t2, got[0].Metadata.Timestamp)
}

func TestQueryTiesFavourLaterInsertion(t *testing.T) {
	trail, _ := newTestTrail(t, WithClock(func() time.Time { return base }))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := trail.Append(ctx, Event{Type: EventAccessGranted, ResourceID: fmt.Sprint(i)})
		require.NoError(t, err)
	}
	got, err := trail.Query(ctx, Query{})
	require.NoError(t, err)
	require.Equal(t, []string{"2", "1", "0"}, []string{got[0].ResourceID, got[1].ResourceID, got[2].ResourceID})
}

func TestQueryFiltersAndPagination(t *testing.T) {
	trail, _ := newTestTrail(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		caller := "alice"
		if i%2 == 1 {
			caller = "bob"
		}
		_, err := trail.Append(ctx, Event{
			Type:     EventAccessDenied,
			CallerID: caller,
			Resource: auth.ResourceInvestments,
			Action:   auth.ActionRead,
			Success:  i%3 == 0,
			Metadata: Metadata{Timestamp: base.Add(time.Duration(i) * time.Second)},
		})
		require.NoError(t, err)
	}

	got, err := trail.Query(ctx, Query{CallerID: "bob"})
	require.NoError(t, err)
	require.Len(t, got, 5)
	for _, e := range got {
		require.Equal(t, "bob", e.CallerID)
	}

	ok := true
	got, err = trail.Query(ctx, Query{Success: &ok})
	require.NoError(t, err)
	require.Len(t, got, 4)

	page, err := trail.Query(ctx, Query{Offset: 2, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, base.Add(7*time.Second), page[0].Metadata.Timestamp)

	empty, err := trail.Query(ctx, Query{Offset: 50})
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)

	none, err := trail.Query(ctx, Query{Resource: auth.ResourcePayments})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestQueryValidation(t *testing.T) {
	trail, _ := newTestTrail(t)
	ctx := context.Background()
	bad := []Query{
		{Start: base, End: base.Add(-time.Second)},
		{Type: "NOPE"},
		{Severity: "SEVERE"},
		{Resource: "VAULT"},
		{Offset: -1},
		{Limit: -1},
		{Limit: MaxLimit + 1},
	}
	for _, q := range bad {
		_, err := trail.Query(ctx, q)
		require.ErrorIs(t, err, ErrInvalidQuery, "%+v", q)
	}

	q, err := Query{}.Normalize()
	require.NoError(t, err)
	require.Equal(t, DefaultLimit, q.Limit)
}

func TestExportMatchesQuery(t *testing.T) {
	trail, _ := newTestTrail(t)
	ctx := context.Background()
	_, err := trail.Append(ctx, Event{
		Type:        EventRoleChanged,
		CallerEmail: "root@meridian.club",
		CallerRole:  auth.RoleSuperAdmin,
		Resource:    auth.ResourceUsers,
		Action:      auth.ActionAssign,
		Success:     true,
		Details:     map[string]any{"from": "member", "to": "admin"},
		Metadata:    Metadata{IP: "10.0.0.1", Timestamp: base},
	})
	require.NoError(t, err)
	_, err = trail.Append(ctx, Event{Type: EventAccessGranted, Resource: auth.ResourceLotteries, Action: auth.ActionRead, Metadata: Metadata{Timestamp: base.Add(time.Second)}})
	require.NoError(t, err)

	q := Query{Type: EventRoleChanged}
	events, err := trail.Query(ctx, q)
	require.NoError(t, err)
	raw, err := trail.Export(ctx, q)
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, len(events)+1)
	require.Equal(t, ExportHeader, rows[0])
	row := rows[1]
	require.Equal(t, base.Format(time.RFC3339Nano), row[0])
	require.Equal(t, "ROLE_CHANGED", row[1])
	require.Equal(t, string(events[0].Severity), row[2])
	require.Equal(t, "root@meridian.club", row[3])
	require.Equal(t, "super_admin", row[4])
	require.Equal(t, "USERS", row[5])
	require.Equal(t, "ASSIGN", row[6])
	require.Equal(t, "true", row[7])
	require.Equal(t, "10.0.0.1", row[8])
	require.JSONEq(t, `{"from":"member","to":"admin"}`, row[9])
}

func TestExportEmpty(t *testing.T) {
	raw, err := EncodeCSV(nil)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{ExportHeader}, rows)
}

func TestConcurrentAppendsAreAllStored(t *testing.T) {
	trail, sink := newTestTrail(t)
	ctx := context.Background()
	const writers, perWriter = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := trail.Append(ctx, Event{Type: EventAccessGranted, CallerID: fmt.Sprintf("w%d", w)})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, writers*perWriter, sink.Len())

	seen := map[string]struct{}{}
	all, err := trail.Query(ctx, Query{Limit: MaxLimit})
	require.NoError(t, err)
	for _, e := range all {
		_, dup := seen[e.ID]
		require.False(t, dup, "duplicate id %s", e.ID)
		seen[e.ID] = struct{}{}
	}
}

func TestCriticalEventsRaiseAlert(t *testing.T) {
	var alerts atomic.Int32
	trail, _ := newTestTrail(t, WithAlerter(AlerterFunc(func(_ context.Context, evt Event) error {
		if evt.Severity == SeverityCritical {
			alerts.Add(1)
		}
		return nil
	})))
	ctx := context.Background()
	_, err := trail.Append(ctx, Event{Type: EventAccessDenied, Resource: auth.ResourceUsers, Action: auth.ActionDelete})
	require.NoError(t, err)
	_, err = trail.Append(ctx, Event{Type: EventAccessGranted, Resource: auth.ResourceUsers, Action: auth.ActionRead})
	require.NoError(t, err)
	trail.WaitAlerts()
	require.Equal(t, int32(1), alerts.Load())
}

func TestPanickingAlerterIsContained(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	trail, sink := newTestTrail(t, WithAlerter(AlerterFunc(func(context.Context, Event) error {
		panic("pager offline")
	})))
	_, err := trail.Append(context.Background(), Event{Type: EventAccessDenied, Resource: auth.ResourceUsers, Action: auth.ActionDelete})
	require.NoError(t, err)
	trail.WaitAlerts()
	require.Equal(t, 1, sink.Len())
	require.Contains(t, buf.String(), "audit_alert_panic")
}

func TestAppendStoresMicrosecondTimestamps(t *testing.T) {
	trail, _ := newTestTrail(t)
	at := base.Add(1234567 * time.Nanosecond)
	evt, err := trail.Append(context.Background(), Event{
		Type:     EventAccessGranted,
		Resource: auth.ResourceLotteries,
		Action:   auth.ActionRead,
		Metadata: Metadata{Timestamp: at},
	})
	require.NoError(t, err)
	require.Equal(t, at.Truncate(time.Microsecond), evt.Metadata.Timestamp)

	got, err := trail.Query(context.Background(), Query{Start: evt.Metadata.Timestamp})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, evt.ID, got[0].ID)
}

func TestDrainWaitsForAlerts(t *testing.T) {
	release := make(chan struct{})
	trail, _ := newTestTrail(t, WithAlerter(AlerterFunc(func(context.Context, Event) error {
		<-release
		return nil
	})))
	_, err := trail.Append(context.Background(), Event{Type: EventAccessDenied, Resource: auth.ResourceUsers, Action: auth.ActionDelete})
	require.NoError(t, err)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, trail.Drain(short), context.DeadlineExceeded)

	close(release)
	require.NoError(t, trail.Drain(context.Background()))
}

func TestAlertFailureDoesNotFailAppend(t *testing.T) {
	trail, sink := newTestTrail(t, WithAlerter(AlerterFunc(func(context.Context, Event) error {
		return errors.New("smtp down")
	})))
	_, err := trail.Append(context.Background(), Event{Type: EventAccessDenied, Resource: auth.ResourcePayments, Action: auth.ActionApprove})
	require.NoError(t, err)
	trail.WaitAlerts()
	require.Equal(t, 1, sink.Len())
}

type failingSink struct{ err error }

func (s failingSink) Append(context.Context, Event) error { return s.err }
func (s failingSink) Query(context.Context, Query) ([]Event, error) { return nil, s.err }

func TestRecordFallsBackToLog(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	trail, err := NewTrail(failingSink{err: errors.New("disk full")})
	require.NoError(t, err)
	ctx := WithRequestID(context.Background(), "req-9")
	ctx = auth.ContextWithIdentity(ctx, auth.Identity{ID: "u-5", Role: auth.RoleMember})

	require.NotPanics(t, func() {
		trail.Record(ctx, Event{Type: EventAccessDenied, CallerID: "u-5", Resource: auth.ResourceUsers, Action: auth.ActionRead})
	})
	out := buf.String()
	require.Contains(t, out, `"msg":"audit_fallback"`)
	require.Contains(t, out, `"cause":"append_failed"`)
	require.Contains(t, out, `"request_id":"req-9"`)
	require.Contains(t, out, `"user_id":"u-5"`)
	require.Contains(t, out, "disk full")
}

func TestNewTrailRequiresSink(t *testing.T) {
	_, err := NewTrail(nil)
	require.Error(t, err)
}
