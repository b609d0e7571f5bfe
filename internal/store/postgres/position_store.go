package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Rows are
// keyed by (account_id, token).
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert writes the current holding of p.Token for p.AccountID.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (account_id, token, quantity, cost_basis, entry_time, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, token) DO UPDATE SET
			quantity   = EXCLUDED.quantity,
			cost_basis = EXCLUDED.cost_basis,
			entry_time = EXCLUDED.entry_time,
			updated_at = EXCLUDED.updated_at`

	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = p.EntryTime
	}
	_, err := s.pool.Exec(ctx, query,
		p.AccountID, p.Token, p.Quantity, p.CostBasis, p.EntryTime, updated,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", p.AccountID, p.Token, err)
	}
	return nil
}

// Delete removes a closed position. Deleting a missing row is not an error.
func (s *PositionStore) Delete(ctx context.Context, accountID, token string) error {
	const query = `DELETE FROM positions WHERE account_id = $1 AND token = $2`
	if _, err := s.pool.Exec(ctx, query, accountID, token); err != nil {
		return fmt.Errorf("postgres: delete position %s/%s: %w", accountID, token, err)
	}
	return nil
}

// ListByAccount returns the account's open positions ordered by token.
func (s *PositionStore) ListByAccount(ctx context.Context, accountID string) ([]domain.Position, error) {
	const query = `
		SELECT account_id, token, quantity, cost_basis, entry_time, updated_at
		FROM positions WHERE account_id = $1 ORDER BY token`

	rows, err := s.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.AccountID, &p.Token, &p.Quantity, &p.CostBasis, &p.EntryTime, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.EntryTime = utc(p.EntryTime)
		p.UpdatedAt = utc(p.UpdatedAt)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
