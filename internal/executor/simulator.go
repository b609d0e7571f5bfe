// Package executor turns strategy decisions into simulated fills against an
// account ledger.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/autotrader/internal/domain"
	"github.com/alanyoungcy/autotrader/internal/ledger"
)

// Config holds the fixed-percentage execution costs. Zero values fill at the
// quoted price with no fee.
type Config struct {
	SlippagePct float64
	FeePct      float64
}

// DefaultConfig returns 0.5% slippage and a 0.3% fee.
func DefaultConfig() Config {
	return Config{SlippagePct: 0.005, FeePct: 0.003}
}

// BuyResult describes a filled buy. It is zero-valued when the buy was
// rejected.
type BuyResult struct {
	Quantity float64
	Spent    float64
	Trade    domain.Trade
}

// Filled reports whether the buy executed.
func (r BuyResult) Filled() bool { return r.Quantity > 0 }

// SellResult describes a filled sell. RoundTrip is set when the sell closed
// the position.
type SellResult struct {
	Quantity  float64
	Received  float64
	Trade     domain.Trade
	Closed    bool
	RoundTrip *domain.RoundTrip
}

// trip accumulates the lifetime cash flows of one token's position.
type trip struct {
	spent    float64
	received float64
	trades   int
	openedAt time.Time
}

// Simulator executes buys and sells against one Ledger. Every buy or sell,
// including the trade-history append, runs inside one critical section, so
// concurrent sessions of the same account cannot interleave ledger updates.
type Simulator struct {
	ledger *ledger.Ledger
	cfg    Config
	logger *slog.Logger
	trips  map[string]*trip
	now    func() time.Time
	mu     sync.Mutex
}

// NewSimulator binds a simulator to l.
func NewSimulator(l *ledger.Ledger, cfg Config, logger *slog.Logger) *Simulator {
	return &Simulator{
		ledger: l,
		cfg:    cfg,
		logger: logger.With(
			slog.String("component", "simulator"),
			slog.String("account", l.AccountID()),
		),
		trips: make(map[string]*trip),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Ledger returns the ledger the simulator mutates.
func (s *Simulator) Ledger() *ledger.Ledger { return s.ledger }

// Buy spends capital on token at price. The fill price includes slippage and
// the fee is taken out of the capital before conversion. A non-positive price
// or a ledger rejection returns a zero result, an error, and records nothing.
func (s *Simulator) Buy(ctx context.Context, sessionID, token string, capital, price float64) (BuyResult, error) {
	if price <= 0 {
		s.logger.WarnContext(ctx, "buy rejected: invalid price",
			slog.String("token", token),
			slog.Float64("price", price),
		)
		return BuyResult{}, fmt.Errorf("executor: buy %s at %v: %w", token, price, domain.ErrInvalidPrice)
	}
	if capital <= 0 {
		return BuyResult{}, fmt.Errorf("executor: buy %s: %w", token, domain.ErrInvalidAmount)
	}

	fill := price * (1 + s.cfg.SlippagePct)
	fee := capital * s.cfg.FeePct
	qty := (capital - fee) / fill

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.RecordBuy(token, capital, qty, fill); err != nil {
		return BuyResult{}, fmt.Errorf("executor: buy %s: %w", token, err)
	}

	now := s.now()
	t := domain.Trade{
		ID:         uuid.NewString(),
		AccountID:  s.ledger.AccountID(),
		SessionID:  sessionID,
		Token:      token,
		Side:       domain.SideBuy,
		Quantity:   qty,
		Price:      fill,
		Amount:     capital,
		Fee:        fee,
		ExecutedAt: now,
	}
	s.ledger.AppendTrade(t)

	tr, ok := s.trips[token]
	if !ok {
		tr = &trip{openedAt: now}
		s.trips[token] = tr
	}
	tr.spent += capital
	tr.trades++

	return BuyResult{Quantity: qty, Spent: capital, Trade: t}, nil
}

// Sell disposes of quantity units of token at price, tagging the trade with
// reason. Proceeds are net of slippage and fee. When the ledger no longer
// holds the token afterwards, the round trip is finalised and returned.
func (s *Simulator) Sell(ctx context.Context, sessionID, token string, quantity, price float64, reason string) (SellResult, error) {
	if price <= 0 {
		s.logger.WarnContext(ctx, "sell rejected: invalid price",
			slog.String("token", token),
			slog.Float64("price", price),
		)
		return SellResult{}, fmt.Errorf("executor: sell %s at %v: %w", token, price, domain.ErrInvalidPrice)
	}

	fill := price * (1 - s.cfg.SlippagePct)
	gross := quantity * fill
	fee := gross * s.cfg.FeePct
	received := gross - fee

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.RecordSell(token, quantity, received, fill); err != nil {
		return SellResult{}, fmt.Errorf("executor: sell %s: %w", token, err)
	}

	now := s.now()
	t := domain.Trade{
		ID:         uuid.NewString(),
		AccountID:  s.ledger.AccountID(),
		SessionID:  sessionID,
		Token:      token,
		Side:       domain.SideSell,
		Quantity:   quantity,
		Price:      fill,
		Amount:     received,
		Fee:        fee,
		Reason:     reason,
		ExecutedAt: now,
	}
	s.ledger.AppendTrade(t)

	res := SellResult{Quantity: quantity, Received: received, Trade: t}

	tr, ok := s.trips[token]
	if !ok {
		// Position opened outside the simulator; track from here.
		tr = &trip{openedAt: now}
		s.trips[token] = tr
	}
	tr.received += received
	tr.trades++

	if !s.ledger.Holds(token) {
		rt := domain.RoundTrip{
			AccountID:  s.ledger.AccountID(),
			Token:      token,
			Spent:      tr.spent,
			Received:   tr.received,
			PnL:        tr.received - tr.spent,
			Trades:     tr.trades,
			OpenedAt:   tr.openedAt,
			ClosedAt:   now,
			ExitReason: reason,
		}
		if tr.spent > 0 {
			rt.PnLPercent = (tr.received/tr.spent - 1) * 100
		}
		delete(s.trips, token)
		res.Closed = true
		res.RoundTrip = &rt
	}

	return res, nil
}
