package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Trades are
// append-only.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, account_id, session_id, token, side,
	quantity, price, amount, fee, reason, executed_at`

const tradeInsert = `
	INSERT INTO trades (
		id, account_id, session_id, token, side,
		quantity, price, amount, fee, reason, executed_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10, $11
	) ON CONFLICT (id) DO NOTHING`

func tradeArgs(t domain.Trade) []any {
	return []any{
		t.ID, t.AccountID, t.SessionID, t.Token, string(t.Side),
		t.Quantity, t.Price, t.Amount, t.Fee, t.Reason, t.ExecutedAt,
	}
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(
			&t.ID, &t.AccountID, &t.SessionID, &t.Token, &side,
			&t.Quantity, &t.Price, &t.Amount, &t.Fee, &t.Reason, &t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.ExecutedAt = utc(t.ExecutedAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert appends one trade. A known id returns domain.ErrAlreadyExists.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	tag, err := s.pool.Exec(ctx, tradeInsert, tradeArgs(t)...)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// InsertBatch appends trades in a single round trip, skipping known ids.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(tradeInsert, tradeArgs(t)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByAccount returns the account's trades newest first.
func (s *TradeStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := appendListOpts(
		`SELECT `+tradeSelectCols+` FROM trades WHERE account_id = $1`,
		[]any{accountID}, "executed_at", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by account: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by account: %w", err)
	}
	return trades, nil
}

// ListBefore returns every trade executed strictly before the cutoff, oldest
// first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE executed_at < $1 ORDER BY executed_at`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return trades, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
