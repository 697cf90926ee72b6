package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"meridian.club/internal/auth"
)

var _ auth.AccountStore = (*Store)(nil)

func (s *Store) Account(ctx context.Context, id string) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return auth.Account{}, auth.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		select id, email, role, is_active, kyc_status
		from users
		where id = $1
	`, id)
	return scanAccount(row)
}

func (s *Store) UpdateRole(ctx context.Context, id string, role auth.Role) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	if !role.Valid() {
		return auth.Account{}, auth.ErrUnknownRole
	}
	row := s.db.QueryRowContext(ctx, `
		update users
		set role = $2, updated_at = now()
		where id = $1
		returning id, email, role, is_active, kyc_status
	`, strings.TrimSpace(id), string(role))
	acct, err := scanAccount(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrCheckViolation {
			return auth.Account{}, auth.ErrUnknownRole
		}
		return auth.Account{}, err
	}
	return acct, nil
}

func scanAccount(row *sql.Row) (auth.Account, error) {
	var (
		acct auth.Account
		role string
	)
	err := row.Scan(&acct.ID, &acct.Email, &role, &acct.Active, &acct.KYCStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Account{}, err
	}
	parsed, err := auth.ParseRole(role)
	if err != nil {
		return auth.Account{}, fmt.Errorf("account %s: stored role %q: %w", acct.ID, role, err)
	}
	acct.Role = parsed
	return acct, nil
}
