package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// SnapshotStore is an in-memory domain.SnapshotStore.
type SnapshotStore struct {
	mu    sync.RWMutex
	snaps []domain.PortfolioSnapshot
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Insert appends a copy of snap.
func (s *SnapshotStore) Insert(_ context.Context, snap domain.PortfolioSnapshot) error {
	snap.Positions = append([]domain.Position(nil), snap.Positions...)
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
	return nil
}

// ListByAccount returns the account's snapshots, newest first.
func (s *SnapshotStore) ListByAccount(_ context.Context, accountID string, opts domain.ListOpts) ([]domain.PortfolioSnapshot, error) {
	s.mu.RLock()
	var out []domain.PortfolioSnapshot
	for _, snap := range s.snaps {
		if snap.AccountID == accountID && inRange(snap.TakenAt, opts) {
			out = append(out, snap)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	return page(out, opts), nil
}

// ListBefore returns every snapshot taken before the cutoff, oldest first.
func (s *SnapshotStore) ListBefore(_ context.Context, before time.Time) ([]domain.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PortfolioSnapshot
	for _, snap := range s.snaps {
		if snap.TakenAt.Before(before) {
			out = append(out, snap)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TakenAt.Before(out[j].TakenAt) })
	return out, nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
