package domain

import "time"

// SessionStatus is the lifecycle state of a trading session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionScreening SessionStatus = "screening"
	SessionActive    SessionStatus = "active"
	SessionFinished  SessionStatus = "finished"
	SessionFailed    SessionStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionFinished || s == SessionFailed
}

// Session completion reasons.
const (
	ReasonPositionClosed      = "position closed"
	ReasonSystemShutdown      = "system shutdown"
	ReasonFeedUnavailable     = "feed unavailable"
	ReasonDependencyExhausted = "external dependency exhausted"
	ReasonScreeningRejected   = "screening rejected"
	ReasonNoEntry             = "no entry signal"
	ReasonInsufficientCapital = "insufficient capital"
)

// SessionAction records one non-HOLD decision taken during a session.
type SessionAction struct {
	At       time.Time `json:"at"`
	Action   string    `json:"action"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Reason   string    `json:"reason"`
	Success  bool      `json:"success"`
}

// Session tracks one admitted signal from admission to closure.
type Session struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	Token      string          `json:"token"`
	Signal     Signal          `json:"signal"`
	Status     SessionStatus   `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	EntryPrice float64         `json:"entry_price"`
	Quantity   float64         `json:"quantity"` // original size at entry
	StopLoss   float64         `json:"stop_loss"`
	Actions    []SessionAction `json:"actions,omitempty"`
	PnL        *float64        `json:"pnl,omitempty"`
	PnLPercent *float64        `json:"pnl_percent,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
}

// Account owns exactly one ledger and one set of sessions.
type Account struct {
	ID             string    `json:"id"`
	Wallet         string    `json:"wallet"`
	InitialBalance float64   `json:"initial_balance"`
	CreatedAt      time.Time `json:"created_at"`
}
