package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"meridian.club/internal/auth"
)

// ErrDenied matches every *Error produced by the gate.
var ErrDenied = errors.New("gate: access denied")

// Error is the structured refusal returned to hosts. Message is generic on
// purpose; the specific reason only reaches the audit trail and metrics.
type Error struct {
	Reason     auth.Reason
	StatusCode int
	Message    string
	cause      error
}

func newError(reason auth.Reason, cause error) *Error {
	return &Error{
		Reason:     reason,
		StatusCode: StatusFor(reason),
		Message:    messageFor(reason),
		cause:      cause,
	}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("gate: %s: %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("gate: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool { return target == ErrDenied }

// MarshalJSON renders the external error body.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error      string `json:"error"`
		StatusCode int    `json:"statusCode"`
	}{e.Message, e.StatusCode})
}

// StatusFor maps a denial reason to its HTTP status.
func StatusFor(reason auth.Reason) int {
	switch reason {
	case auth.ReasonUnauthenticated:
		return http.StatusUnauthorized
	case auth.ReasonAccountDisabled, auth.ReasonRoleNotAllowed, auth.ReasonPermissionDenied,
		auth.ReasonOwnershipMismatch, auth.ReasonCustomCheckFailed:
		return http.StatusForbidden
	case auth.ReasonValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(reason auth.Reason) string {
	switch StatusFor(reason) {
	case http.StatusUnauthorized:
		return "authentication required"
	case http.StatusForbidden:
		return "access denied"
	case http.StatusBadRequest:
		return "invalid request"
	default:
		return "internal error"
	}
}

// AsError extracts the gate error from err.
func AsError(err error) (*Error, bool) {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr, true
	}
	return nil, false
}
