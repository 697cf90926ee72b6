package auth

import "errors"

var (
	ErrNotFound        = errors.New("auth: not found")
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrUnknownRole     = errors.New("auth: unknown role")
	ErrUnknownResource = errors.New("auth: unknown resource")
	ErrUnknownAction   = errors.New("auth: unknown action")
	ErrInvalidToken    = errors.New("auth: invalid token")
)

// Reason classifies why an authorization decision denied access.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonUnauthenticated   Reason = "unauthenticated"
	ReasonAccountDisabled   Reason = "account_disabled"
	ReasonRoleNotAllowed    Reason = "role_not_allowed"
	ReasonPermissionDenied  Reason = "permission_denied"
	ReasonOwnershipMismatch Reason = "ownership_mismatch"
	ReasonCustomCheckFailed Reason = "custom_check_failed"
	ReasonInternalError     Reason = "internal_error"
	ReasonValidation        Reason = "validation"
)

// Decision is the terminal outcome of one evaluation.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Allow is the single approving decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny returns a refusing decision carrying reason.
func Deny(reason Reason) Decision { return Decision{Reason: reason} }
