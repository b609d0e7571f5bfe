package domain

import "time"

// EventType identifies the kind of core event emitted to the persistence and
// notification layer.
type EventType string

const (
	EventTradeExecuted      EventType = "trade_executed"
	EventPositionClosed     EventType = "position_closed"
	EventStrategyTransition EventType = "strategy_transition"
	EventSessionStatus      EventType = "session_status"
	EventPortfolioSnapshot  EventType = "portfolio_snapshot"
	EventSignalDropped      EventType = "signal_dropped"
)

// Event is the single record shape the core emits after every ledger
// mutation and every strategy or session transition. It carries enough to
// rebuild trade history and the current portfolio.
type Event struct {
	ID         string             `json:"id"`
	Type       EventType          `json:"type"`
	AccountID  string             `json:"account_id"`
	SessionID  string             `json:"session_id,omitempty"`
	Token      string             `json:"token,omitempty"`
	Side       Side               `json:"side,omitempty"`
	Quantity   float64            `json:"quantity,omitempty"`
	Price      float64            `json:"price,omitempty"`
	Amount     float64            `json:"amount,omitempty"`
	StopLoss   float64            `json:"stop_loss,omitempty"`
	Transition string             `json:"transition,omitempty"`
	Status     SessionStatus      `json:"status,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	PnL        *float64           `json:"pnl,omitempty"`
	PnLPercent *float64           `json:"pnl_percent,omitempty"`
	Trade      *Trade             `json:"trade,omitempty"`
	Position   *Position          `json:"position,omitempty"`
	Session    *Session           `json:"session,omitempty"`
	Snapshot   *PortfolioSnapshot `json:"snapshot,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}
