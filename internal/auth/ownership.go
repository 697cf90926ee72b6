package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// OwnerResolver looks up the identity owning one instance of a resource.
// found is false when the instance does not exist or has no owner.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, resourceID string) (ownerID string, found bool, err error)
}

// OwnerResolverFunc adapts a function to OwnerResolver.
type OwnerResolverFunc func(ctx context.Context, resourceID string) (string, bool, error)

func (f OwnerResolverFunc) ResolveOwner(ctx context.Context, resourceID string) (string, bool, error) {
	return f(ctx, resourceID)
}

// OwnershipRegistry maps resource types to their owner lookup. It is filled
// at startup; Seal stops further registration.
type OwnershipRegistry struct {
	mu        sync.RWMutex
	resolvers map[Resource]OwnerResolver
	sealed    bool
}

func NewOwnershipRegistry() *OwnershipRegistry {
	return &OwnershipRegistry{resolvers: make(map[Resource]OwnerResolver)}
}

// Register adds the lookup for resource. Registering twice is an error.
func (r *OwnershipRegistry) Register(resource Resource, resolver OwnerResolver) error {
	if !resource.Valid() {
		return ErrUnknownResource
	}
	if resolver == nil {
		return fmt.Errorf("%w: resolver for %s is nil", ErrInvalidInput, resource)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: ownership registry is sealed", ErrInvalidInput)
	}
	if _, ok := r.resolvers[resource]; ok {
		return fmt.Errorf("%w: resolver for %s already registered", ErrInvalidInput, resource)
	}
	r.resolvers[resource] = resolver
	return nil
}

// Seal freezes the registry.
func (r *OwnershipRegistry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Resolve returns the owner of resourceID. Unregistered resources and blank
// ids resolve to not found.
func (r *OwnershipRegistry) Resolve(ctx context.Context, resource Resource, resourceID string) (string, bool, error) {
	resourceID = strings.TrimSpace(resourceID)
	if r == nil || resourceID == "" {
		return "", false, nil
	}
	r.mu.RLock()
	resolver, ok := r.resolvers[resource]
	r.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	owner, found, err := resolver.ResolveOwner(ctx, resourceID)
	if err != nil {
		return "", false, fmt.Errorf("resolve owner of %s %s: %w", resource, resourceID, err)
	}
	if !found || strings.TrimSpace(owner) == "" {
		return "", false, nil
	}
	return owner, true, nil
}
