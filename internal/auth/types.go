package auth

import (
	"strings"
)

// Role is a caller category with a fixed position in the privilege order.
type Role string

const (
	RoleMember           Role = "member"
	RoleSupportAgent     Role = "support_agent"
	RoleFinancialOfficer Role = "financial_officer"
	RoleAdmin            Role = "admin"
	RoleSuperAdmin       Role = "super_admin"
)

// roleLevels is the single total order used for elevation guarding.
var roleLevels = map[Role]int{
	RoleMember:           10,
	RoleSupportAgent:     20,
	RoleFinancialOfficer: 30,
	RoleAdmin:            40,
	RoleSuperAdmin:       50,
}

// Roles lists every known role from lowest to highest level.
var Roles = []Role{RoleMember, RoleSupportAgent, RoleFinancialOfficer, RoleAdmin, RoleSuperAdmin}

// Level returns the role's position in the privilege order.
func (r Role) Level() (int, bool) {
	lvl, ok := roleLevels[r]
	return lvl, ok
}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// ParseRole normalizes raw input into a known role.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !r.Valid() {
		return "", ErrUnknownRole
	}
	return r, nil
}

// Resource is a protected domain noun.
type Resource string

const (
	ResourceUsers            Resource = "USERS"
	ResourceOpportunities    Resource = "OPPORTUNITIES"
	ResourceTransactions     Resource = "TRANSACTIONS"
	ResourceSupportTickets   Resource = "SUPPORT_TICKETS"
	ResourceNotifications    Resource = "NOTIFICATIONS"
	ResourceInvestments      Resource = "INVESTMENTS"
	ResourcePayments         Resource = "PAYMENTS"
	ResourceFinancialReports Resource = "FINANCIAL_REPORTS"
	ResourceSystemSettings   Resource = "SYSTEM_SETTINGS"
	ResourceLotteries        Resource = "LOTTERIES"
	ResourceReferrals        Resource = "REFERRALS"
	ResourceUserProfile      Resource = "USER_PROFILE"
)

// Resources is the closed resource enumeration.
var Resources = []Resource{
	ResourceUsers,
	ResourceOpportunities,
	ResourceTransactions,
	ResourceSupportTickets,
	ResourceNotifications,
	ResourceInvestments,
	ResourcePayments,
	ResourceFinancialReports,
	ResourceSystemSettings,
	ResourceLotteries,
	ResourceReferrals,
	ResourceUserProfile,
}

func (r Resource) Valid() bool {
	for _, known := range Resources {
		if r == known {
			return true
		}
	}
	return false
}

// ParseResource accepts any casing of a known resource name.
func ParseResource(raw string) (Resource, error) {
	r := Resource(strings.TrimSpace(strings.ToUpper(raw)))
	if !r.Valid() {
		return "", ErrUnknownResource
	}
	return r, nil
}

// Action is an operation performed on a resource.
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionRead    Action = "READ"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionAssign  Action = "ASSIGN"
)

// Actions is the closed action enumeration.
var Actions = []Action{
	ActionCreate,
	ActionRead,
	ActionUpdate,
	ActionDelete,
	ActionApprove,
	ActionReject,
	ActionAssign,
}

func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// ParseAction accepts any casing of a known action name.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.TrimSpace(strings.ToUpper(raw)))
	if !a.Valid() {
		return "", ErrUnknownAction
	}
	return a, nil
}

// Identity is the caller as reported by the session provider.
type Identity struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	Active    bool   `json:"is_active"`
	KYCStatus string `json:"kyc_status,omitempty"`
}

// Account is the caller's current persisted account state.
type Account struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	Active    bool   `json:"is_active"`
	KYCStatus string `json:"kyc_status,omitempty"`
}
