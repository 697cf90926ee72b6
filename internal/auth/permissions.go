package auth

import "sort"

// Grant is the set of actions a role may perform on one resource.
type Grant struct {
	Resource Resource `json:"resource"`
	Actions  []Action `json:"actions"`
}

// Catalog is the immutable role→resource→actions table. A missing entry
// grants nothing.
type Catalog struct {
	grants map[Role]map[Resource]map[Action]struct{}
}

// NewCatalog copies table into a read-only catalog. Unknown roles, resources
// or actions are rejected so the table cannot silently grant something the
// evaluator does not understand.
func NewCatalog(table map[Role]map[Resource][]Action) (*Catalog, error) {
	grants := make(map[Role]map[Resource]map[Action]struct{}, len(table))
	for role, resources := range table {
		if !role.Valid() {
			return nil, ErrUnknownRole
		}
		byResource := make(map[Resource]map[Action]struct{}, len(resources))
		for res, actions := range resources {
			if !res.Valid() {
				return nil, ErrUnknownResource
			}
			set := make(map[Action]struct{}, len(actions))
			for _, a := range actions {
				if !a.Valid() {
					return nil, ErrUnknownAction
				}
				set[a] = struct{}{}
			}
			byResource[res] = set
		}
		grants[role] = byResource
	}
	return &Catalog{grants: grants}, nil
}

// MustCatalog is NewCatalog for literal tables known to be valid.
func MustCatalog(table map[Role]map[Resource][]Action) *Catalog {
	c, err := NewCatalog(table)
	if err != nil {
		panic(err)
	}
	return c
}

// Allows reports whether role holds action on resource.
func (c *Catalog) Allows(role Role, resource Resource, action Action) bool {
	if c == nil {
		return false
	}
	_, ok := c.grants[role][resource][action]
	return ok
}

// Permissions lists the grants held by role, ordered by resource then
// action. An unknown role yields an empty list.
func (c *Catalog) Permissions(role Role) []Grant {
	if c == nil {
		return nil
	}
	resources := c.grants[role]
	out := make([]Grant, 0, len(resources))
	for res, set := range resources {
		g := Grant{Resource: res, Actions: make([]Action, 0, len(set))}
		for _, a := range Actions {
			if _, ok := set[a]; ok {
				g.Actions = append(g.Actions, a)
			}
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

var allActions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionApprove, ActionReject, ActionAssign}

// DefaultTable is the platform's grant table. super_admin is spelled out in
// full rather than special-cased.
func DefaultTable() map[Role]map[Resource][]Action {
	return map[Role]map[Resource][]Action{
		RoleMember: {
			ResourceOpportunities:  {ActionRead},
			ResourceInvestments:    {ActionCreate, ActionRead},
			ResourceTransactions:   {ActionCreate, ActionRead},
			ResourcePayments:       {ActionCreate, ActionRead},
			ResourceSupportTickets: {ActionCreate, ActionRead, ActionUpdate},
			ResourceNotifications:  {ActionRead, ActionUpdate},
			ResourceLotteries:      {ActionRead},
			ResourceReferrals:      {ActionCreate, ActionRead},
			ResourceUserProfile:    {ActionRead, ActionUpdate},
		},
		RoleSupportAgent: {
			ResourceUsers:          {ActionRead},
			ResourceSupportTickets: {ActionCreate, ActionRead, ActionUpdate, ActionAssign},
			ResourceNotifications:  {ActionCreate, ActionRead},
			ResourceUserProfile:    {ActionRead},
			ResourceOpportunities:  {ActionRead},
			ResourceLotteries:      {ActionRead},
			ResourceReferrals:      {ActionRead},
		},
		RoleFinancialOfficer: {
			ResourceUsers:            {ActionRead},
			ResourceTransactions:     {ActionRead, ActionApprove, ActionReject},
			ResourcePayments:         {ActionRead, ActionApprove, ActionReject},
			ResourceInvestments:      {ActionRead, ActionApprove, ActionReject},
			ResourceFinancialReports: {ActionCreate, ActionRead},
			ResourceOpportunities:    {ActionRead},
			ResourceNotifications:    {ActionRead},
			ResourceUserProfile:      {ActionRead},
		},
		RoleAdmin: {
			ResourceUsers:            allActions,
			ResourceOpportunities:    allActions,
			ResourceTransactions:     allActions,
			ResourceSupportTickets:   allActions,
			ResourceNotifications:    allActions,
			ResourceInvestments:      allActions,
			ResourcePayments:         allActions,
			ResourceFinancialReports: allActions,
			ResourceSystemSettings:   {ActionRead},
			ResourceLotteries:        allActions,
			ResourceReferrals:        allActions,
			ResourceUserProfile:      allActions,
		},
		RoleSuperAdmin: {
			ResourceUsers:            allActions,
			ResourceOpportunities:    allActions,
			ResourceTransactions:     allActions,
			ResourceSupportTickets:   allActions,
			ResourceNotifications:    allActions,
			ResourceInvestments:      allActions,
			ResourcePayments:         allActions,
			ResourceFinancialReports: allActions,
			ResourceSystemSettings:   allActions,
			ResourceLotteries:        allActions,
			ResourceReferrals:        allActions,
			ResourceUserProfile:      allActions,
		},
	}
}

// DefaultCatalog builds the catalog from DefaultTable.
func DefaultCatalog() *Catalog {
	return MustCatalog(DefaultTable())
}
