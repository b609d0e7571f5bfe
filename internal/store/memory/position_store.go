package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// PositionStore is an in-memory domain.PositionStore keyed by account and
// token.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]map[string]domain.Position
}

// NewPositionStore creates an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{data: make(map[string]map[string]domain.Position)}
}

// Upsert stores p.
func (s *PositionStore) Upsert(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byToken, ok := s.data[p.AccountID]
	if !ok {
		byToken = make(map[string]domain.Position)
		s.data[p.AccountID] = byToken
	}
	byToken[p.Token] = p
	return nil
}

// Delete removes the position. Deleting a missing position is not an error.
func (s *PositionStore) Delete(_ context.Context, accountID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[accountID], token)
	return nil
}

// ListByAccount returns the account's positions ordered by token.
func (s *PositionStore) ListByAccount(_ context.Context, accountID string) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Position, 0, len(s.data[accountID]))
	for _, p := range s.data[accountID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
