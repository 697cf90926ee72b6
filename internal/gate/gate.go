// Package gate enforces access rules in front of protected operations and
// records every refusal on the audit trail.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"meridian.club/internal/audit"
	"meridian.club/internal/auth"
	"meridian.club/internal/obs"
)

// IdentityResolver yields the session caller.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context) (auth.Identity, error)
}

// AccountLoader returns the caller's current account state.
type AccountLoader interface {
	Account(ctx context.Context, id string) (auth.Account, error)
}

// Evaluator decides resource/action permission for a validated context.
type Evaluator interface {
	Evaluate(role auth.Role, resource auth.Resource, action auth.Action, actx auth.AuthorizationContext, ownershipRequired bool) auth.Decision
}

// OwnerLookup resolves who owns a resource instance.
type OwnerLookup interface {
	Resolve(ctx context.Context, resource auth.Resource, resourceID string) (string, bool, error)
}

// Gate orchestrates identity, account state, permission and ownership checks.
type Gate struct {
	identities IdentityResolver
	accounts   AccountLoader
	eval       Evaluator
	owners     OwnerLookup
	roles      *auth.RoleManager
	recorder   audit.Recorder
	logger     *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithOwners sets the ownership lookup used by rules with OwnershipRequired.
func WithOwners(o OwnerLookup) Option {
	return func(g *Gate) { g.owners = o }
}

// WithRecorder sets the audit recorder. Without one nothing is audited.
func WithRecorder(r audit.Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

// WithRoleManager overrides the role assignment policy.
func WithRoleManager(m *auth.RoleManager) Option {
	return func(g *Gate) {
		if m != nil {
			g.roles = m
		}
	}
}

// WithLogger sets the logger for internal failures.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New builds a gate.
func New(identities IdentityResolver, accounts AccountLoader, eval Evaluator, opts ...Option) (*Gate, error) {
	if identities == nil || accounts == nil || eval == nil {
		return nil, errors.New("gate: identity resolver, account loader and evaluator are required")
	}
	g := &Gate{
		identities: identities,
		accounts:   accounts,
		eval:       eval,
		roles:      auth.NewRoleManager(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = obs.Resolve(g.logger)
	return g, nil
}

// Do runs op only when rule admits the caller. The result of op is
// returned unchanged. The caller identity is attached to the context passed
// to op.
func Do[T any](ctx context.Context, g *Gate, rule Rule, req Request, op func(ctx context.Context, caller auth.Identity) (T, error)) (T, error) {
	var zero T
	caller, err := g.Authorize(ctx, rule, req)
	if err != nil {
		return zero, err
	}
	if rule.RequireAuth {
		ctx = auth.ContextWithIdentity(ctx, caller)
	}
	return op(ctx, caller)
}

// Authorize runs the checks of rule and returns the admitted caller. For
// rules without RequireAuth it returns the zero identity.
func (g *Gate) Authorize(ctx context.Context, rule Rule, req Request) (auth.Identity, error) {
	req = req.normalized()
	ctx = audit.WithRequestID(ctx, req.RequestID)
	if err := rule.Validate(); err != nil {
		g.logger.ErrorContext(ctx, "gate_invalid_rule", "resource", rule.Resource, "action", rule.Action, "error", err)
		return auth.Identity{}, g.refuse(rule, auth.ReasonValidation, err)
	}
	if !rule.RequireAuth {
		return auth.Identity{}, nil
	}

	caller, err := g.resolveCaller(ctx)
	if err != nil {
		reason := auth.ReasonInternalError
		if errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, auth.ErrNotFound) {
			reason = auth.ReasonUnauthenticated
		} else {
			g.logger.ErrorContext(ctx, "gate_identity_failed", "error", err)
		}
		g.deny(ctx, rule, req, caller, reason)
		return auth.Identity{}, g.refuse(rule, reason, err)
	}

	if !caller.Active {
		g.deny(ctx, rule, req, caller, auth.ReasonAccountDisabled)
		return auth.Identity{}, g.refuse(rule, auth.ReasonAccountDisabled, nil)
	}
	if !rule.roleAllowed(caller.Role) {
		g.deny(ctx, rule, req, caller, auth.ReasonRoleNotAllowed)
		return auth.Identity{}, g.refuse(rule, auth.ReasonRoleNotAllowed, nil)
	}

	actx := auth.AuthorizationContext{
		CallerID:     caller.ID,
		CallerRole:   caller.Role,
		CallerActive: caller.Active,
		ResourceID:   req.ResourceID,
	}
	if err := actx.Validate(); err != nil {
		g.deny(ctx, rule, req, caller, auth.ReasonInternalError)
		return auth.Identity{}, g.refuse(rule, auth.ReasonInternalError, err)
	}
	if rule.OwnershipRequired && g.owners != nil && req.ResourceID != "" {
		// Callers without the grant never reach the owner lookup.
		if d := g.eval.Evaluate(caller.Role, rule.Resource, rule.Action, actx, false); !d.Allowed {
			return auth.Identity{}, g.denyDecision(ctx, rule, req, caller, d)
		}
		owner, found, err := g.resolveOwner(ctx, rule.Resource, req.ResourceID)
		if err != nil {
			g.logger.ErrorContext(ctx, "gate_owner_lookup_failed", "resource", rule.Resource, "resource_id", req.ResourceID, "error", err)
			g.deny(ctx, rule, req, caller, auth.ReasonInternalError)
			return auth.Identity{}, g.refuse(rule, auth.ReasonInternalError, err)
		}
		if owner = strings.TrimSpace(owner); found && owner != "" {
			actx.OwnerResolved, actx.OwnerID = true, owner
		}
	}

	if d := g.eval.Evaluate(caller.Role, rule.Resource, rule.Action, actx, rule.OwnershipRequired); !d.Allowed {
		return auth.Identity{}, g.denyDecision(ctx, rule, req, caller, d)
	}

	if rule.CustomCheck != nil {
		ok, err := runCheck(ctx, rule, caller, req)
		if err != nil {
			g.logger.ErrorContext(ctx, "gate_custom_check_panic", "resource", rule.Resource, "action", rule.Action, "error", err)
			g.deny(ctx, rule, req, caller, auth.ReasonInternalError)
			return auth.Identity{}, g.refuse(rule, auth.ReasonInternalError, err)
		}
		if !ok {
			g.deny(ctx, rule, req, caller, auth.ReasonCustomCheckFailed)
			return auth.Identity{}, g.refuse(rule, auth.ReasonCustomCheckFailed, nil)
		}
	}

	obs.ObserveDecision(string(rule.Resource), string(rule.Action), true, "")
	if audit.IsSensitive(rule.Resource, rule.Action) {
		g.record(ctx, g.event(audit.EventAccessGranted, rule, req, caller, true, nil))
	}
	return caller, nil
}

// AuthorizeRoleChange checks that caller may move target to requested. A
// refusal is audited as ROLE_CHANGE_DENIED; the host audits the change
// itself once it has been stored.
func (g *Gate) AuthorizeRoleChange(ctx context.Context, caller auth.Identity, target auth.Account, requested auth.Role, req Request) error {
	req = req.normalized()
	req.ResourceID = target.ID
	ctx = audit.WithRequestID(ctx, req.RequestID)
	rule := Rule{Resource: auth.ResourceUsers, Action: auth.ActionAssign}
	if !requested.Valid() {
		return g.refuse(rule, auth.ReasonValidation, fmt.Errorf("%w: requested role %q", auth.ErrUnknownRole, requested))
	}
	if g.roles.CanAssignRole(caller.Role, target.Role, requested) {
		return nil
	}
	evt := g.event(audit.EventRoleChangeDenied, rule, req, caller, false, map[string]any{
		"reason": string(auth.ReasonPermissionDenied),
		"from":   string(target.Role),
		"to":     string(requested),
	})
	g.record(ctx, evt)
	return g.refuse(rule, auth.ReasonPermissionDenied, nil)
}

// resolveCaller resolves the session and overlays the stored account state.
func (g *Gate) resolveCaller(ctx context.Context) (caller auth.Identity, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("identity resolution panic: %v", r)
		}
	}()
	id, err := g.identities.ResolveIdentity(ctx)
	if err != nil {
		return auth.Identity{}, err
	}
	if strings.TrimSpace(id.ID) == "" {
		return auth.Identity{}, auth.ErrUnauthenticated
	}
	acct, err := g.accounts.Account(ctx, id.ID)
	if err != nil {
		return id, fmt.Errorf("load account %s: %w", id.ID, err)
	}
	id.Role = acct.Role
	id.Active = acct.Active
	id.KYCStatus = acct.KYCStatus
	if acct.Email != "" {
		id.Email = acct.Email
	}
	return id, nil
}

func (g *Gate) resolveOwner(ctx context.Context, resource auth.Resource, id string) (owner string, found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("owner lookup panic: %v", r)
		}
	}()
	return g.owners.Resolve(ctx, resource, id)
}

func runCheck(ctx context.Context, rule Rule, caller auth.Identity, req Request) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("custom check panic: %v", r)
		}
	}()
	return rule.CustomCheck(ctx, caller, req), nil
}

func (g *Gate) refuse(rule Rule, reason auth.Reason, cause error) *Error {
	obs.ObserveDecision(string(rule.Resource), string(rule.Action), false, string(reason))
	return newError(reason, cause)
}

func (g *Gate) denyDecision(ctx context.Context, rule Rule, req Request, caller auth.Identity, d auth.Decision) *Error {
	reason := d.Reason
	if reason == auth.ReasonNone {
		reason = auth.ReasonPermissionDenied
	}
	g.deny(ctx, rule, req, caller, reason)
	return g.refuse(rule, reason, nil)
}

func (g *Gate) deny(ctx context.Context, rule Rule, req Request, caller auth.Identity, reason auth.Reason) {
	g.record(ctx, g.event(audit.EventAccessDenied, rule, req, caller, false, map[string]any{
		"reason": string(reason),
	}))
}

func (g *Gate) event(typ audit.EventType, rule Rule, req Request, caller auth.Identity, success bool, details map[string]any) audit.Event {
	return audit.Event{
		Type:        typ,
		CallerID:    caller.ID,
		CallerEmail: caller.Email,
		CallerRole:  caller.Role,
		Resource:    rule.Resource,
		Action:      rule.Action,
		ResourceID:  req.ResourceID,
		Success:     success,
		Details:     details,
		Metadata: audit.Metadata{
			IP:        req.IP,
			UserAgent: req.UserAgent,
			RequestID: req.RequestID,
		},
	}
}

// record never lets an audit problem reach the protected call.
func (g *Gate) record(ctx context.Context, evt audit.Event) {
	if g.recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			audit.LogFallback(ctx, g.logger, evt, "recorder_panic", fmt.Errorf("%v", r))
		}
	}()
	g.recorder.Record(ctx, evt)
}

// Roles returns the policy used by AuthorizeRoleChange.
func (g *Gate) Roles() *auth.RoleManager { return g.roles }
