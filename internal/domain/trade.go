package domain

import "time"

// Side is the direction of an execution.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is one append-only execution record.
type Trade struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Token      string    `json:"token"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`  // fill price after slippage
	Amount     float64   `json:"amount"` // SOL spent (buy) or received (sell)
	Fee        float64   `json:"fee"`
	Reason     string    `json:"reason,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

// RoundTrip summarises all trades of one token from initial buy to full
// liquidation.
type RoundTrip struct {
	AccountID  string    `json:"account_id"`
	Token      string    `json:"token"`
	Spent      float64   `json:"spent"`
	Received   float64   `json:"received"`
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnl_percent"`
	Trades     int       `json:"trades"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
	ExitReason string    `json:"exit_reason"`
}

// Tick is one market-data observation for a token.
type Tick struct {
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
}
