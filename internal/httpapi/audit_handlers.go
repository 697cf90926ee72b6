package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"meridian.club/internal/audit"
	"meridian.club/internal/auth"
)

type auditListResponse struct {
	Events []audit.Event `json:"events"`
	Count  int           `json:"count"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}

func (a *API) handleAuditEvents(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	q, err := parseAuditQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q, err = q.Normalize()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	events, err := a.audit.Query(r.Context(), q)
	if err != nil {
		a.auditError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auditListResponse{
		Events: events,
		Count:  len(events),
		Offset: q.Offset,
		Limit:  q.Limit,
	})
}

func (a *API) handleAuditExport(w http.ResponseWriter, r *http.Request, caller auth.Identity) {
	q, err := parseAuditQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	raw, err := a.audit.Export(r.Context(), q)
	if err != nil {
		a.auditError(w, r, err)
		return
	}
	if a.recorder != nil {
		req := gateRequest(r)
		a.recorder.Record(r.Context(), audit.Event{
			Type:        audit.EventAuditExported,
			CallerID:    caller.ID,
			CallerEmail: caller.Email,
			CallerRole:  caller.Role,
			Resource:    auth.ResourceSystemSettings,
			Action:      auth.ActionRead,
			Success:     true,
			Details:     map[string]any{"filters": r.URL.RawQuery, "bytes": len(raw)},
			Metadata:    audit.Metadata{IP: req.IP, UserAgent: req.UserAgent, RequestID: req.RequestID},
		})
	}
	name := fmt.Sprintf("audit-%s.csv", time.Now().UTC().Format("20060102T150405Z"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (a *API) auditError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, audit.ErrInvalidQuery) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a.logger.ErrorContext(r.Context(), "audit_query_failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

func parseAuditQuery(v url.Values) (audit.Query, error) {
	var q audit.Query
	var err error
	if q.Start, err = parseTime(v.Get("start")); err != nil {
		return audit.Query{}, fmt.Errorf("start: %w", err)
	}
	if q.End, err = parseTime(v.Get("end")); err != nil {
		return audit.Query{}, fmt.Errorf("end: %w", err)
	}
	q.CallerID = strings.TrimSpace(v.Get("caller_id"))
	q.Type = audit.EventType(strings.ToUpper(strings.TrimSpace(v.Get("type"))))
	q.Severity = audit.Severity(strings.ToUpper(strings.TrimSpace(v.Get("severity"))))
	if raw := strings.TrimSpace(v.Get("resource")); raw != "" {
		res, err := auth.ParseResource(raw)
		if err != nil {
			return audit.Query{}, fmt.Errorf("resource: %w", err)
		}
		q.Resource = res
	}
	if raw := strings.TrimSpace(v.Get("success")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return audit.Query{}, fmt.Errorf("success must be a boolean")
		}
		q.Success = &b
	}
	if q.Offset, err = parseInt(v.Get("offset")); err != nil {
		return audit.Query{}, fmt.Errorf("offset: %w", err)
	}
	if q.Limit, err = parseInt(v.Get("limit")); err != nil {
		return audit.Query{}, fmt.Errorf("limit: %w", err)
	}
	return q, nil
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errors.New("must be an RFC 3339 timestamp")
	}
	return ts, nil
}

func parseInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	return n, nil
}
