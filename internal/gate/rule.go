package gate

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"meridian.club/internal/auth"
)

// Rule configures protection of one operation.
type Rule struct {
	Resource    auth.Resource
	Action      auth.Action
	RequireAuth bool
	// AllowedRoles narrows callers before the catalog is consulted. Empty
	// means any role.
	AllowedRoles      []auth.Role
	OwnershipRequired bool
	CustomCheck       func(ctx context.Context, caller auth.Identity, req Request) bool
}

// Validate reports configuration errors.
func (r Rule) Validate() error {
	if !r.Resource.Valid() {
		return fmt.Errorf("%w: resource %q", auth.ErrUnknownResource, r.Resource)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("%w: action %q", auth.ErrUnknownAction, r.Action)
	}
	for _, role := range r.AllowedRoles {
		if !role.Valid() {
			return fmt.Errorf("%w: allowed role %q", auth.ErrUnknownRole, role)
		}
	}
	if !r.RequireAuth && (len(r.AllowedRoles) > 0 || r.OwnershipRequired || r.CustomCheck != nil) {
		return fmt.Errorf("%w: caller constraints need RequireAuth", auth.ErrInvalidInput)
	}
	return nil
}

func (r Rule) roleAllowed(role auth.Role) bool {
	return len(r.AllowedRoles) == 0 || slices.Contains(r.AllowedRoles, role)
}

// Request carries the per-call facts the gate needs besides the caller.
// Attributes is read by CustomCheck only; the HTTP layer fills "method",
// "path", "id" and "query.<name>", the gRPC guard fills "method" and
// "md.<key>".
type Request struct {
	ResourceID string
	IP         string
	UserAgent  string
	RequestID  string
	Attributes map[string]string
}

func (r Request) normalized() Request {
	r.ResourceID = strings.TrimSpace(r.ResourceID)
	r.RequestID = strings.TrimSpace(r.RequestID)
	return r
}
