package audit

import (
	"errors"
	"maps"
	"time"

	"meridian.club/internal/auth"
)

var (
	ErrInvalidEvent = errors.New("audit: invalid event")
	ErrInvalidQuery = errors.New("audit: invalid query")
	ErrClosed       = errors.New("audit: recorder closed")
)

// EventType is drawn from a closed taxonomy.
type EventType string

const (
	EventAccessGranted       EventType = "ACCESS_GRANTED"
	EventAccessDenied        EventType = "ACCESS_DENIED"
	EventRoleChanged         EventType = "ROLE_CHANGED"
	EventRoleChangeDenied    EventType = "ROLE_CHANGE_DENIED"
	EventAccountDisabled     EventType = "ACCOUNT_DISABLED"
	EventAccountEnabled      EventType = "ACCOUNT_ENABLED"
	EventKYCApproved         EventType = "KYC_APPROVED"
	EventKYCRejected         EventType = "KYC_REJECTED"
	EventTransactionApproved EventType = "TRANSACTION_APPROVED"
	EventTransactionRejected EventType = "TRANSACTION_REJECTED"
	EventSettingsUpdated     EventType = "SETTINGS_UPDATED"
	EventAuditExported       EventType = "AUDIT_EXPORTED"
	EventSuspiciousActivity  EventType = "SUSPICIOUS_ACTIVITY"
)

var eventTypes = map[EventType]struct{}{
	EventAccessGranted:       {},
	EventAccessDenied:        {},
	EventRoleChanged:         {},
	EventRoleChangeDenied:    {},
	EventAccountDisabled:     {},
	EventAccountEnabled:      {},
	EventKYCApproved:         {},
	EventKYCRejected:         {},
	EventTransactionApproved: {},
	EventTransactionRejected: {},
	EventSettingsUpdated:     {},
	EventAuditExported:       {},
	EventSuspiciousActivity:  {},
}

func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// Severity drives alerting.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

var (
	sensitiveResources = map[auth.Resource]struct{}{
		auth.ResourceUsers:          {},
		auth.ResourceTransactions:   {},
		auth.ResourcePayments:       {},
		auth.ResourceSystemSettings: {},
	}
	decisiveActions = map[auth.Action]struct{}{
		auth.ActionDelete:  {},
		auth.ActionApprove: {},
		auth.ActionReject:  {},
	}
)

// Classify maps a (resource, action) pair to its severity. It is a pure
// function: the same pair always yields the same severity.
func Classify(resource auth.Resource, action auth.Action) Severity {
	_, sensitive := sensitiveResources[resource]
	_, decisive := decisiveActions[action]
	switch {
	case sensitive && decisive:
		return SeverityCritical
	case sensitive || decisive:
		return SeverityHigh
	case action == auth.ActionCreate || action == auth.ActionUpdate:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IsSensitive reports whether allowed access to the pair is itself audited.
func IsSensitive(resource auth.Resource, action auth.Action) bool {
	s := Classify(resource, action)
	return s == SeverityHigh || s == SeverityCritical
}

// Metadata describes where an event came from.
type Metadata struct {
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is an immutable audit record. A non-empty Severity on input
// overrides classification.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"event_type"`
	Severity    Severity       `json:"severity"`
	CallerID    string         `json:"caller_id,omitempty"`
	CallerEmail string         `json:"caller_email,omitempty"`
	CallerRole  auth.Role      `json:"caller_role,omitempty"`
	Resource    auth.Resource  `json:"resource"`
	Action      auth.Action    `json:"action"`
	ResourceID  string         `json:"resource_id,omitempty"`
	Success     bool           `json:"success"`
	Details     map[string]any `json:"details,omitempty"`
	Metadata    Metadata       `json:"metadata"`
}

// clone returns a copy that shares no mutable state with e.
func (e Event) clone() Event {
	if e.Details != nil {
		e.Details = maps.Clone(e.Details)
	}
	return e
}
