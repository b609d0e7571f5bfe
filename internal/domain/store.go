package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AccountStore persists registered accounts.
type AccountStore interface {
	Create(ctx context.Context, acct Account) error
	GetByID(ctx context.Context, id string) (Account, error)
	GetByWallet(ctx context.Context, wallet string) (Account, error)
	List(ctx context.Context) ([]Account, error)
}

// SessionStore persists trading sessions.
type SessionStore interface {
	Upsert(ctx context.Context, s Session) error
	GetByID(ctx context.Context, id string) (Session, error)
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]Session, error)
}

// TradeStore persists execution records.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) error
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// PositionStore persists the current open positions of each account.
type PositionStore interface {
	Upsert(ctx context.Context, p Position) error
	Delete(ctx context.Context, accountID, token string) error
	ListByAccount(ctx context.Context, accountID string) ([]Position, error)
}

// SnapshotStore persists periodic portfolio snapshots.
type SnapshotStore interface {
	Insert(ctx context.Context, snap PortfolioSnapshot) error
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]PortfolioSnapshot, error)
	ListBefore(ctx context.Context, before time.Time) ([]PortfolioSnapshot, error)
}

// AuditEntry is a single row in the audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore is an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
