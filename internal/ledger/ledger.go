// Package ledger holds the capital and open positions of one account. It is
// pure bookkeeping: no I/O, no logging. Every mutation is all-or-nothing and
// runs inside one exclusive critical section.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// PriceLookup returns the latest price for a token and whether it is known.
type PriceLookup func(token string) (float64, bool)

// MapPrices adapts a plain map to a PriceLookup.
func MapPrices(prices map[string]float64) PriceLookup {
	return func(token string) (float64, bool) {
		p, ok := prices[token]
		return p, ok
	}
}

// Ledger tracks available capital, positions and the ordered trade history
// for one account.
type Ledger struct {
	accountID string
	available float64
	positions map[string]*domain.Position
	history   []domain.Trade
	now       func() time.Time
	mu        sync.RWMutex
}

// New creates a Ledger with the given starting capital.
func New(accountID string, capital float64) *Ledger {
	if capital < 0 {
		capital = 0
	}
	return &Ledger{
		accountID: accountID,
		available: capital,
		positions: make(map[string]*domain.Position),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AccountID returns the owning account.
func (l *Ledger) AccountID() string {
	return l.accountID
}

// RecordBuy debits spent and adds quantity to the token's position, updating
// the volume-weighted cost basis. It fails without mutating anything when
// spent exceeds the available capital.
func (l *Ledger) RecordBuy(token string, spent, quantity, price float64) error {
	if spent <= 0 || quantity <= 0 {
		return fmt.Errorf("ledger: buy %s: %w", token, domain.ErrInvalidAmount)
	}
	if price <= 0 {
		return fmt.Errorf("ledger: buy %s: %w", token, domain.ErrInvalidPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if spent > l.available {
		return fmt.Errorf("ledger: buy %s: spend %.9f > available %.9f: %w",
			token, spent, l.available, domain.ErrInsufficientCapital)
	}

	now := l.now()
	pos, ok := l.positions[token]
	if !ok {
		pos = &domain.Position{
			AccountID: l.accountID,
			Token:     token,
			EntryTime: now,
		}
		l.positions[token] = pos
	}

	newQty := pos.Quantity + quantity
	pos.CostBasis = (pos.CostBasis*pos.Quantity + spent) / newQty
	pos.Quantity = newQty
	pos.UpdatedAt = now
	l.available -= spent

	return nil
}

// RecordSell credits received and removes quantity from the token's
// position. It fails without mutating anything when quantity exceeds the
// held amount, including when no position exists. A position left with less
// than domain.PositionEpsilon units is removed.
func (l *Ledger) RecordSell(token string, quantity, received, price float64) error {
	if quantity <= 0 || received < 0 {
		return fmt.Errorf("ledger: sell %s: %w", token, domain.ErrInvalidAmount)
	}
	if price <= 0 {
		return fmt.Errorf("ledger: sell %s: %w", token, domain.ErrInvalidPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[token]
	if !ok {
		return fmt.Errorf("ledger: sell %s: no position: %w", token, domain.ErrInsufficientQuantity)
	}
	if quantity > pos.Quantity {
		return fmt.Errorf("ledger: sell %s: quantity %.9f > held %.9f: %w",
			token, quantity, pos.Quantity, domain.ErrInsufficientQuantity)
	}

	l.available += received
	pos.Quantity -= quantity
	pos.UpdatedAt = l.now()
	if pos.Quantity < domain.PositionEpsilon {
		delete(l.positions, token)
	}

	return nil
}

// AppendTrade adds a trade record to the history. Only the execution
// simulator calls it, right after a successful RecordBuy or RecordSell.
func (l *Ledger) AppendTrade(t domain.Trade) {
	l.mu.Lock()
	l.history = append(l.history, t)
	l.mu.Unlock()
}

// Available returns the uncommitted capital.
func (l *Ledger) Available() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.available
}

// Position returns a copy of the token's position, if any.
func (l *Ledger) Position(token string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[token]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Holds reports whether the ledger has a position in token.
func (l *Ledger) Holds(token string) bool {
	_, ok := l.Position(token)
	return ok
}

// Positions returns copies of all open positions ordered by token.
func (l *Ledger) Positions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// History returns a copy of the trade history in execution order.
func (l *Ledger) History() []domain.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Trade, len(l.history))
	copy(out, l.history)
	return out
}

// TotalValue returns available capital plus every position valued at the
// looked-up price. Tokens without a price contribute 0.
func (l *Ledger) TotalValue(lookup PriceLookup) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := l.available
	for token, p := range l.positions {
		if lookup == nil {
			continue
		}
		if price, ok := lookup(token); ok {
			total += p.Quantity * price
		}
	}
	return total
}

// Snapshot captures capital, total value and unrealized P&L against cost
// basis. Positions without a price are valued at 0 and excluded from the
// unrealized figure.
func (l *Ledger) Snapshot(lookup PriceLookup) domain.PortfolioSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := domain.PortfolioSnapshot{
		AccountID: l.accountID,
		Capital:   l.available,
		Positions: make([]domain.Position, 0, len(l.positions)),
		TakenAt:   l.now(),
	}
	total := l.available
	for token, p := range l.positions {
		snap.Positions = append(snap.Positions, *p)
		if lookup == nil {
			continue
		}
		if price, ok := lookup(token); ok {
			total += p.Quantity * price
			snap.UnrealizedPnL += (price - p.CostBasis) * p.Quantity
		}
	}
	sort.Slice(snap.Positions, func(i, j int) bool { return snap.Positions[i].Token < snap.Positions[j].Token })
	snap.TotalValue = total
	return snap
}
