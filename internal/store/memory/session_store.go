package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// SessionStore is an in-memory domain.SessionStore.
type SessionStore struct {
	mu   sync.RWMutex
	data map[string]domain.Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{data: make(map[string]domain.Session)}
}

func cloneSession(s domain.Session) domain.Session {
	out := s
	out.Actions = append([]domain.SessionAction(nil), s.Actions...)
	if s.PnL != nil {
		v := *s.PnL
		out.PnL = &v
	}
	if s.PnLPercent != nil {
		v := *s.PnLPercent
		out.PnLPercent = &v
	}
	if s.EndedAt != nil {
		v := *s.EndedAt
		out.EndedAt = &v
	}
	return out
}

// Upsert stores a copy of sess, replacing any previous version.
func (s *SessionStore) Upsert(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	s.data[sess.ID] = cloneSession(sess)
	s.mu.Unlock()
	return nil
}

// GetByID returns the session or domain.ErrNotFound.
func (s *SessionStore) GetByID(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.data[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return cloneSession(sess), nil
}

// ListByAccount returns the account's sessions, newest first.
func (s *SessionStore) ListByAccount(_ context.Context, accountID string, opts domain.ListOpts) ([]domain.Session, error) {
	s.mu.RLock()
	var out []domain.Session
	for _, sess := range s.data {
		if sess.AccountID == accountID && inRange(sess.StartedAt, opts) {
			out = append(out, cloneSession(sess))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, opts), nil
}

var _ domain.SessionStore = (*SessionStore)(nil)
