package domain

import "time"

// PositionEpsilon is the quantity below which a position is considered
// fully closed and removed from the ledger.
const PositionEpsilon = 1e-9

// Position is the current holding of one token within one account.
type Position struct {
	AccountID string    `json:"account_id"`
	Token     string    `json:"token"`
	Quantity  float64   `json:"quantity"`
	CostBasis float64   `json:"cost_basis"` // volume-weighted average entry price
	EntryTime time.Time `json:"entry_time"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cost returns the capital currently committed to the position.
func (p Position) Cost() float64 {
	return p.CostBasis * p.Quantity
}

// Value returns the position value at the given price.
func (p Position) Value(price float64) float64 {
	return p.Quantity * price
}

// PortfolioSnapshot captures the state of one account's ledger at a point in
// time.
type PortfolioSnapshot struct {
	AccountID     string     `json:"account_id"`
	Capital       float64    `json:"capital"`
	TotalValue    float64    `json:"total_value"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	Positions     []Position `json:"positions"`
	TakenAt       time.Time  `json:"taken_at"`
}
