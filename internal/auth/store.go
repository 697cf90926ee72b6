package auth

import (
	"context"
	"strings"
	"sync"
)

// AccountStore describes the account persistence the access-control core
// reads and, for role changes, writes.
type AccountStore interface {
	Account(ctx context.Context, id string) (Account, error)
	UpdateRole(ctx context.Context, id string, role Role) (Account, error)
}

// MemoryAccounts is an in-process AccountStore for tests and local runs.
type MemoryAccounts struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewMemoryAccounts(seed ...Account) *MemoryAccounts {
	m := &MemoryAccounts{accounts: make(map[string]Account, len(seed))}
	for _, a := range seed {
		m.accounts[a.ID] = a
	}
	return m
}

func (m *MemoryAccounts) Account(_ context.Context, id string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[strings.TrimSpace(id)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryAccounts) UpdateRole(_ context.Context, id string, role Role) (Account, error) {
	if !role.Valid() {
		return Account{}, ErrUnknownRole
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[strings.TrimSpace(id)]
	if !ok {
		return Account{}, ErrNotFound
	}
	a.Role = role
	m.accounts[a.ID] = a
	return a, nil
}

// Put inserts or replaces an account.
func (m *MemoryAccounts) Put(a Account) {
	m.mu.Lock()
	m.accounts[a.ID] = a
	m.mu.Unlock()
}
