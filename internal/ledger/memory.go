package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/evdms/evdms/internal/shared"
)

// MemoryStore keeps accounts in process. One mutex covers every commit.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	entries  map[string][]Entry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]Account), entries: make(map[string][]Entry)}
}

// OpenAccount creates the account; an existing one is a conflict.
func (m *MemoryStore) OpenAccount(_ context.Context, acct Account) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.DealerID]; ok {
		return Account{}, fmt.Errorf("%w: dealer %s already has an account", shared.ErrConflict, acct.DealerID)
	}
	acct.CurrentDebt = 0
	m.accounts[acct.DealerID] = acct
	return acct, nil
}

// Account returns the dealer account.
func (m *MemoryStore) Account(_ context.Context, dealerID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[dealerID]
	if !ok {
		return Account{}, fmt.Errorf("%w: dealer account %s", shared.ErrNotFound, dealerID)
	}
	return acct, nil
}

// Commit checks and applies e under the store lock.
func (m *MemoryStore) Commit(_ context.Context, e Entry) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[e.DealerID]
	if !ok {
		return Account{}, fmt.Errorf("%w: dealer account %s", shared.ErrNotFound, e.DealerID)
	}
	next, err := check(acct, e)
	if err != nil {
		return Account{}, err
	}
	next.UpdatedAt = e.CreatedAt
	m.accounts[e.DealerID] = next
	m.entries[e.DealerID] = append(m.entries[e.DealerID], e)
	return next, nil
}

// Entries returns up to limit entries, newest first.
func (m *MemoryStore) Entries(_ context.Context, dealerID string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.entries[dealerID]
	out := make([]Entry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
