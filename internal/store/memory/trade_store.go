package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// TradeStore is an append-only in-memory domain.TradeStore.
type TradeStore struct {
	mu     sync.RWMutex
	trades []domain.Trade
	ids    map[string]struct{}
}

// NewTradeStore creates an empty store.
func NewTradeStore() *TradeStore {
	return &TradeStore{ids: make(map[string]struct{})}
}

// Insert appends t. Re-inserting an ID returns domain.ErrAlreadyExists.
func (s *TradeStore) Insert(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[t.ID]; ok {
		return fmt.Errorf("memory: trade %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	s.ids[t.ID] = struct{}{}
	s.trades = append(s.trades, t)
	return nil
}

// ListByAccount returns the account's trades, newest first.
func (s *TradeStore) ListByAccount(_ context.Context, accountID string, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.RLock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.AccountID == accountID && inRange(t.ExecutedAt, opts) {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
	return page(out, opts), nil
}

// ListBefore returns every trade executed before the cutoff, oldest first.
func (s *TradeStore) ListBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.ExecutedAt.Before(before) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
