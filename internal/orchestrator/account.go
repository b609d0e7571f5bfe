package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/autotrader/internal/domain"
	"github.com/alanyoungcy/autotrader/internal/executor"
	"github.com/alanyoungcy/autotrader/internal/ledger"
)

// account is one user's isolated slice of the system: a ledger, the
// simulator bound to it, and its sessions.
type account struct {
	info   domain.Account
	ledger *ledger.Ledger
	sim    *executor.Simulator

	// entryMu serialises the capital check and the entry buy of every
	// session in the account.
	entryMu sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*session // by session ID
	live     map[string]string   // token -> ID of its non-terminal session
}

func newAccount(info domain.Account, l *ledger.Ledger, sim *executor.Simulator) *account {
	return &account{
		info:     info,
		ledger:   l,
		sim:      sim,
		sessions: make(map[string]*session),
		live:     make(map[string]string),
	}
}

// occupied reports whether token has a non-terminal session or a position
// left open by an earlier one.
func (a *account) occupied(token string) bool {
	a.mu.RLock()
	_, ok := a.live[token]
	a.mu.RUnlock()
	return ok || a.ledger.Holds(token)
}

// admit checks the admission predicates and, when they all hold, registers
// a Pending session that reserves the token and a concurrency slot.
func (a *account) admit(sig domain.Signal, cfg Config, now time.Time) (*session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.live[sig.Token]; ok {
		return nil, fmt.Errorf("orchestrator: admit %s: %w", sig.Token, domain.ErrDuplicateToken)
	}
	if a.ledger.Holds(sig.Token) {
		return nil, fmt.Errorf("orchestrator: admit %s: position still open: %w", sig.Token, domain.ErrDuplicateToken)
	}
	if len(a.live) >= cfg.limit() {
		return nil, fmt.Errorf("orchestrator: admit %s: %d live sessions: %w",
			sig.Token, len(a.live), domain.ErrConcurrencyLimit)
	}
	if size := a.ledger.Available() * cfg.RiskFraction; size < cfg.MinTradeSize {
		return nil, fmt.Errorf("orchestrator: admit %s: size %.6f < %.6f: %w",
			sig.Token, size, cfg.MinTradeSize, domain.ErrTradeTooSmall)
	}

	s := newSession(domain.Session{
		ID:        uuid.NewString(),
		AccountID: a.info.ID,
		Token:     sig.Token,
		Signal:    sig,
		Status:    domain.SessionPending,
		StartedAt: now,
	})
	a.sessions[s.id] = s
	a.live[sig.Token] = s.id
	return s, nil
}

// release frees the token and slot held by s.
func (a *account) release(s *session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.live[s.token] == s.id {
		delete(a.live, s.token)
	}
}

// liveCount returns the number of non-terminal sessions.
func (a *account) liveCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.live)
}

// snapshotSessions returns copies of all sessions, newest first.
func (a *account) snapshotSessions() []domain.Session {
	a.mu.RLock()
	list := make([]*session, 0, len(a.sessions))
	for _, s := range a.sessions {
		list = append(list, s)
	}
	a.mu.RUnlock()

	out := make([]domain.Session, 0, len(list))
	for _, s := range list {
		out = append(out, s.record())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (a *account) session(id string) (*session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[id]
	return s, ok
}
