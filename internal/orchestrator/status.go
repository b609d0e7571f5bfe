package orchestrator

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/autotrader/internal/domain"
	"github.com/alanyoungcy/autotrader/internal/queue"
)

// AccountStatus summarises one account.
type AccountStatus struct {
	ID             string            `json:"id"`
	Wallet         string            `json:"wallet"`
	InitialBalance float64           `json:"initial_balance"`
	Available      float64           `json:"available"`
	TotalValue     float64           `json:"total_value"`
	LiveSessions   int               `json:"live_sessions"`
	Positions      []domain.Position `json:"positions"`
}

// SystemStatus is the point-in-time view served by the status endpoint.
type SystemStatus struct {
	Running       bool            `json:"running"`
	StartedAt     time.Time       `json:"started_at"`
	MaxConcurrent int             `json:"max_concurrent"`
	EntryRule     string          `json:"entry_rule"`
	Queue         queue.Status    `json:"queue"`
	Accounts      []AccountStatus `json:"accounts"`
}

// Status reports the orchestrator, queue and every account.
func (o *Orchestrator) Status() SystemStatus {
	o.mu.RLock()
	started := o.startedAt
	o.mu.RUnlock()

	out := SystemStatus{
		Running:       o.Running(),
		StartedAt:     started,
		MaxConcurrent: o.cfg.limit(),
		EntryRule:     o.entry.Name(),
		Queue:         o.queue.Status(),
	}
	for _, a := range o.accountList() {
		out.Accounts = append(out.Accounts, AccountStatus{
			ID:             a.info.ID,
			Wallet:         a.info.Wallet,
			InitialBalance: a.info.InitialBalance,
			Available:      a.ledger.Available(),
			TotalValue:     a.ledger.TotalValue(o.priceLookup),
			LiveSessions:   a.liveCount(),
			Positions:      a.ledger.Positions(),
		})
	}
	return out
}

// Accounts returns the registered accounts sorted by ID.
func (o *Orchestrator) Accounts() []domain.Account {
	list := o.accountList()
	out := make([]domain.Account, 0, len(list))
	for _, a := range list {
		out = append(out, a.info)
	}
	return out
}

// Sessions returns the sessions of one account, newest first.
func (o *Orchestrator) Sessions(accountID string) ([]domain.Session, error) {
	a, ok := o.account(accountID)
	if !ok {
		return nil, fmt.Errorf("orchestrator: sessions %s: %w", accountID, domain.ErrUnknownAccount)
	}
	return a.snapshotSessions(), nil
}

// Session looks a session up by ID across all accounts.
func (o *Orchestrator) Session(id string) (domain.Session, error) {
	for _, a := range o.accountList() {
		if s, ok := a.session(id); ok {
			return s.record(), nil
		}
	}
	return domain.Session{}, fmt.Errorf("orchestrator: session %s: %w", id, domain.ErrNotFound)
}

// LiveSessions counts non-terminal sessions across all accounts.
func (o *Orchestrator) LiveSessions() int {
	n := 0
	for _, a := range o.accountList() {
		n += a.liveCount()
	}
	return n
}

// Positions returns the open positions of one account.
func (o *Orchestrator) Positions(accountID string) ([]domain.Position, error) {
	a, ok := o.account(accountID)
	if !ok {
		return nil, fmt.Errorf("orchestrator: positions %s: %w", accountID, domain.ErrUnknownAccount)
	}
	return a.ledger.Positions(), nil
}

// Trades returns the trade history of one account in execution order.
func (o *Orchestrator) Trades(accountID string) ([]domain.Trade, error) {
	a, ok := o.account(accountID)
	if !ok {
		return nil, fmt.Errorf("orchestrator: trades %s: %w", accountID, domain.ErrUnknownAccount)
	}
	return a.ledger.History(), nil
}

// Snapshot returns the current portfolio snapshot of one account.
func (o *Orchestrator) Snapshot(accountID string) (domain.PortfolioSnapshot, error) {
	a, ok := o.account(accountID)
	if !ok {
		return domain.PortfolioSnapshot{}, fmt.Errorf("orchestrator: snapshot %s: %w", accountID, domain.ErrUnknownAccount)
	}
	return a.ledger.Snapshot(o.priceLookup), nil
}
