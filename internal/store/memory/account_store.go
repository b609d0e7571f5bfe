package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// AccountStore is an in-memory domain.AccountStore.
type AccountStore struct {
	mu       sync.RWMutex
	byID     map[string]domain.Account
	byWallet map[string]string // wallet -> id
}

// NewAccountStore creates an empty store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		byID:     make(map[string]domain.Account),
		byWallet: make(map[string]string),
	}
}

// Create inserts acct. It returns domain.ErrAlreadyExists when the ID or the
// wallet is taken.
func (s *AccountStore) Create(_ context.Context, acct domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[acct.ID]; ok {
		return fmt.Errorf("memory: account %s: %w", acct.ID, domain.ErrAlreadyExists)
	}
	if _, ok := s.byWallet[acct.Wallet]; ok && acct.Wallet != "" {
		return fmt.Errorf("memory: wallet %s: %w", acct.Wallet, domain.ErrAlreadyExists)
	}
	s.byID[acct.ID] = acct
	if acct.Wallet != "" {
		s.byWallet[acct.Wallet] = acct.ID
	}
	return nil
}

// GetByID returns the account or domain.ErrNotFound.
func (s *AccountStore) GetByID(_ context.Context, id string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.byID[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return acct, nil
}

// GetByWallet returns the account owning wallet or domain.ErrNotFound.
func (s *AccountStore) GetByWallet(_ context.Context, wallet string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byWallet[wallet]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return s.byID[id], nil
}

// List returns all accounts ordered by creation time.
func (s *AccountStore) List(_ context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ domain.AccountStore = (*AccountStore)(nil)
