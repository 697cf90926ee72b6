package audit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"meridian.club/internal/auth"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Query filters the event sequence. Zero values mean "no constraint";
// Start and End are inclusive.
type Query struct {
	Start    time.Time
	End      time.Time
	CallerID string
	Type     EventType
	Severity Severity
	Resource auth.Resource
	Success  *bool
	Offset   int
	Limit    int
}

// Normalize validates q and fills the default limit.
func (q Query) Normalize() (Query, error) {
	q.CallerID = strings.TrimSpace(q.CallerID)
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return Query{}, fmt.Errorf("%w: end must not precede start", ErrInvalidQuery)
	}
	if q.Type != "" && !q.Type.Valid() {
		return Query{}, fmt.Errorf("%w: unknown event type %q", ErrInvalidQuery, q.Type)
	}
	if q.Severity != "" && !q.Severity.Valid() {
		return Query{}, fmt.Errorf("%w: unknown severity %q", ErrInvalidQuery, q.Severity)
	}
	if q.Resource != "" && !q.Resource.Valid() {
		return Query{}, fmt.Errorf("%w: unknown resource %q", ErrInvalidQuery, q.Resource)
	}
	if q.Offset < 0 {
		return Query{}, fmt.Errorf("%w: offset must not be negative", ErrInvalidQuery)
	}
	switch {
	case q.Limit < 0:
		return Query{}, fmt.Errorf("%w: limit must not be negative", ErrInvalidQuery)
	case q.Limit == 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		return Query{}, fmt.Errorf("%w: limit exceeds %d", ErrInvalidQuery, MaxLimit)
	}
	return q, nil
}

// Matches reports whether evt passes every filter in q. Pagination is not
// considered.
func (q Query) Matches(evt Event) bool {
	ts := evt.Metadata.Timestamp
	if !q.Start.IsZero() && ts.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && ts.After(q.End) {
		return false
	}
	if q.CallerID != "" && evt.CallerID != q.CallerID {
		return false
	}
	if q.Type != "" && evt.Type != q.Type {
		return false
	}
	if q.Severity != "" && evt.Severity != q.Severity {
		return false
	}
	if q.Resource != "" && evt.Resource != q.Resource {
		return false
	}
	if q.Success != nil && evt.Success != *q.Success {
		return false
	}
	return true
}

type sequenced struct {
	seq uint64
	evt Event
}

// selectPage filters, orders newest first (later insertion wins ties) and
// paginates.
func selectPage(snapshot []sequenced, q Query) []Event {
	matched := make([]sequenced, 0, len(snapshot))
	for _, s := range snapshot {
		if q.Matches(s.evt) {
			matched = append(matched, s)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		ti, tj := matched[i].evt.Metadata.Timestamp, matched[j].evt.Metadata.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return matched[i].seq > matched[j].seq
	})
	if q.Offset >= len(matched) {
		return []Event{}
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]Event, len(matched))
	for i, s := range matched {
		out[i] = s.evt.clone()
	}
	return out
}
