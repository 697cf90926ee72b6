package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"meridian.club/internal/audit"
	"meridian.club/internal/auth"
)

// AuditSink stores audit events in the append-only audit_events table.
type AuditSink struct {
	store *Store
}

var _ audit.Sink = (*AuditSink)(nil)

func (s *Store) AuditSink() *AuditSink { return &AuditSink{store: s} }

func (a *AuditSink) Append(ctx context.Context, evt audit.Event) error {
	if a.store == nil || a.store.db == nil {
		return errNoDB
	}
	var details []byte
	if len(evt.Details) > 0 {
		raw, err := json.Marshal(evt.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = raw
	}
	_, err := a.store.db.ExecContext(ctx, `
		insert into audit_events (
			id, event_type, severity, caller_id, caller_email, caller_role,
			resource, action, resource_id, success, details,
			ip, user_agent, request_id, occurred_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		evt.ID, string(evt.Type), string(evt.Severity), evt.CallerID, evt.CallerEmail, string(evt.CallerRole),
		string(evt.Resource), string(evt.Action), evt.ResourceID, evt.Success, details,
		evt.Metadata.IP, evt.Metadata.UserAgent, evt.Metadata.RequestID, evt.Metadata.Timestamp.UTC(),
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: duplicate id %s", audit.ErrInvalidEvent, evt.ID)
		}
		return err
	}
	return nil
}

func (a *AuditSink) Query(ctx context.Context, q audit.Query) ([]audit.Event, error) {
	if a.store == nil || a.store.db == nil {
		return nil, errNoDB
	}
	where, args := auditFilter(q)
	limit := q.Limit
	if limit <= 0 {
		limit = audit.DefaultLimit
	}
	args = append(args, limit, q.Offset)
	query := fmt.Sprintf(`
		select id, event_type, severity, caller_id, caller_email, caller_role,
			resource, action, resource_id, success, details,
			ip, user_agent, request_id, occurred_at
		from audit_events
		%s
		order by occurred_at desc, seq desc
		limit $%d offset $%d
	`, where, len(args)-1, len(args))

	rows, err := a.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []audit.Event{}
	for rows.Next() {
		var (
			evt                      audit.Event
			typ, sev, role, res, act string
			details                  []byte
		)
		if err := rows.Scan(&evt.ID, &typ, &sev, &evt.CallerID, &evt.CallerEmail, &role,
			&res, &act, &evt.ResourceID, &evt.Success, &details,
			&evt.Metadata.IP, &evt.Metadata.UserAgent, &evt.Metadata.RequestID, &evt.Metadata.Timestamp); err != nil {
			return nil, err
		}
		evt.Type = audit.EventType(typ)
		evt.Severity = audit.Severity(sev)
		evt.CallerRole = auth.Role(role)
		evt.Resource = auth.Resource(res)
		evt.Action = auth.Action(act)
		evt.Metadata.Timestamp = evt.Metadata.Timestamp.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &evt.Details); err != nil {
				return nil, fmt.Errorf("decode details of %s: %w", evt.ID, err)
			}
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func auditFilter(q audit.Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !q.Start.IsZero() {
		add("occurred_at >= $%d", q.Start.UTC())
	}
	if !q.End.IsZero() {
		add("occurred_at <= $%d", q.End.UTC())
	}
	if q.CallerID != "" {
		add("caller_id = $%d", q.CallerID)
	}
	if q.Type != "" {
		add("event_type = $%d", string(q.Type))
	}
	if q.Severity != "" {
		add("severity = $%d", string(q.Severity))
	}
	if q.Resource != "" {
		add("resource = $%d", string(q.Resource))
	}
	if q.Success != nil {
		add("success = $%d", *q.Success)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "where " + strings.Join(conds, " and "), args
}
