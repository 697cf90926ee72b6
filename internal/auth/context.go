package auth

import (
	"context"
	"fmt"
	"strings"
)

// AuthorizationContext carries the runtime facts for a single decision. The
// gate builds and validates it per request; the evaluator only reads it.
type AuthorizationContext struct {
	CallerID     string
	CallerRole   Role
	CallerActive bool
	ResourceID   string
	// OwnerResolved is false when no owner lookup ran or the lookup found nothing.
	OwnerResolved bool
	OwnerID       string
}

// Validate checks the required fields.
func (c AuthorizationContext) Validate() error {
	if strings.TrimSpace(c.CallerID) == "" {
		return fmt.Errorf("%w: caller id is required", ErrInvalidInput)
	}
	if !c.CallerRole.Valid() {
		return fmt.Errorf("%w: caller role %q", ErrInvalidInput, c.CallerRole)
	}
	if c.OwnerResolved && strings.TrimSpace(c.OwnerID) == "" {
		return fmt.Errorf("%w: resolved owner id is empty", ErrInvalidInput)
	}
	return nil
}

type identityContextKey struct{}
type tokenContextKey struct{}

// ContextWithIdentity attaches the session identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// IdentityFromContext extracts the session identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ContextIdentityResolver resolves the caller from an identity previously
// attached with ContextWithIdentity.
type ContextIdentityResolver struct{}

func (ContextIdentityResolver) ResolveIdentity(ctx context.Context) (Identity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(id.ID) == "" {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}
