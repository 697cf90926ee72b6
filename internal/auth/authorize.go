package auth

// Evaluator combines the catalog with ownership scoping. It performs no I/O:
// owner resolution happens before Evaluate is called and arrives through the
// AuthorizationContext.
type Evaluator struct {
	catalog   *Catalog
	overrides map[Resource]map[Role]struct{}
}

// OwnershipOverrides names, per resource, the roles that bypass ownership
// scoping on that resource.
type OwnershipOverrides map[Resource][]Role

// DefaultOwnershipOverrides lets administrative roles act on any instance,
// and staff roles on the resources they service.
func DefaultOwnershipOverrides() OwnershipOverrides {
	out := OwnershipOverrides{}
	for _, res := range Resources {
		out[res] = []Role{RoleAdmin, RoleSuperAdmin}
	}
	out[ResourceSupportTickets] = append(out[ResourceSupportTickets], RoleSupportAgent)
	for _, res := range []Resource{ResourceTransactions, ResourcePayments, ResourceInvestments} {
		out[res] = append(out[res], RoleFinancialOfficer)
	}
	return out
}

// NewEvaluator builds an evaluator over catalog. A nil catalog denies everything.
func NewEvaluator(catalog *Catalog, overrides OwnershipOverrides) *Evaluator {
	idx := make(map[Resource]map[Role]struct{}, len(overrides))
	for res, roles := range overrides {
		set := make(map[Role]struct{}, len(roles))
		for _, r := range roles {
			set[r] = struct{}{}
		}
		idx[res] = set
	}
	return &Evaluator{catalog: catalog, overrides: idx}
}

// OverridesOwnership reports whether role bypasses ownership on resource.
func (e *Evaluator) OverridesOwnership(role Role, resource Resource) bool {
	_, ok := e.overrides[resource][role]
	return ok
}

// Evaluate decides whether role may perform action on resource.
func (e *Evaluator) Evaluate(role Role, resource Resource, action Action, actx AuthorizationContext, ownershipRequired bool) Decision {
	if e == nil || !e.catalog.Allows(role, resource, action) {
		return Deny(ReasonPermissionDenied)
	}
	if !ownershipRequired || e.OverridesOwnership(role, resource) {
		return Allow()
	}
	// An owner that could not be resolved is never treated as a match.
	if !actx.OwnerResolved || actx.OwnerID == "" || actx.OwnerID != actx.CallerID {
		return Deny(ReasonOwnershipMismatch)
	}
	return Allow()
}
