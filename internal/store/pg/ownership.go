package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"meridian.club/internal/auth"
)

// ownerColumn names where the owner of a resource instance is stored.
type ownerColumn struct {
	table  string
	column string
}

var ownerColumns = map[auth.Resource]ownerColumn{
	auth.ResourceSupportTickets: {"support_tickets", "created_by"},
	auth.ResourceInvestments:    {"investments", "user_id"},
	auth.ResourceTransactions:   {"transactions", "user_id"},
	auth.ResourcePayments:       {"payments", "user_id"},
	auth.ResourceNotifications:  {"notifications", "user_id"},
	auth.ResourceReferrals:      {"referrals", "referrer_id"},
	auth.ResourceUsers:          {"users", "id"},
	auth.ResourceUserProfile:    {"users", "id"},
}

// OwnerResolver returns the lookup for resource, or nil when the resource has
// no owner column.
func (s *Store) OwnerResolver(resource auth.Resource) auth.OwnerResolver {
	col, ok := ownerColumns[resource]
	if !ok {
		return nil
	}
	query := fmt.Sprintf(`select %s from %s where id = $1`, col.column, col.table)
	return auth.OwnerResolverFunc(func(ctx context.Context, id string) (string, bool, error) {
		if s.db == nil {
			return "", false, errNoDB
		}
		var owner sql.NullString
		err := s.db.QueryRowContext(ctx, query, id).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		if !owner.Valid || owner.String == "" {
			return "", false, nil
		}
		return owner.String, true, nil
	})
}

// RegisterOwnership installs every owner lookup backed by this store.
func (s *Store) RegisterOwnership(reg *auth.OwnershipRegistry) error {
	for _, res := range auth.Resources {
		resolver := s.OwnerResolver(res)
		if resolver == nil {
			continue
		}
		if err := reg.Register(res, resolver); err != nil {
			return err
		}
	}
	return nil
}
