package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. The
// position list of each snapshot is stored as JSONB.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotSelectCols = `account_id, capital, total_value, unrealized_pnl, positions, taken_at`

func scanSnapshotRows(rows pgx.Rows) ([]domain.PortfolioSnapshot, error) {
	var out []domain.PortfolioSnapshot
	for rows.Next() {
		var snap domain.PortfolioSnapshot
		var positionsJSON []byte
		if err := rows.Scan(
			&snap.AccountID, &snap.Capital, &snap.TotalValue, &snap.UnrealizedPnL,
			&positionsJSON, &snap.TakenAt,
		); err != nil {
			return nil, err
		}
		if len(positionsJSON) > 0 {
			if err := json.Unmarshal(positionsJSON, &snap.Positions); err != nil {
				return nil, fmt.Errorf("unmarshal positions: %w", err)
			}
		}
		snap.TakenAt = utc(snap.TakenAt)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Insert appends one snapshot.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.PortfolioSnapshot) error {
	positions := snap.Positions
	if positions == nil {
		positions = []domain.Position{}
	}
	positionsJSON, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot positions: %w", err)
	}

	const query = `
		INSERT INTO portfolio_snapshots (account_id, capital, total_value, unrealized_pnl, positions, taken_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = s.pool.Exec(ctx, query,
		snap.AccountID, snap.Capital, snap.TotalValue, snap.UnrealizedPnL, positionsJSON, snap.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot for %s: %w", snap.AccountID, err)
	}
	return nil
}

// ListByAccount returns the account's snapshots newest first.
func (s *SnapshotStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.PortfolioSnapshot, error) {
	query, args := appendListOpts(
		`SELECT `+snapshotSelectCols+` FROM portfolio_snapshots WHERE account_id = $1`,
		[]any{accountID}, "taken_at", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots: %w", err)
	}
	defer rows.Close()

	out, err := scanSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots: %w", err)
	}
	return out, nil
}

// ListBefore returns every snapshot taken strictly before the cutoff, oldest
// first.
func (s *SnapshotStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PortfolioSnapshot, error) {
	query := `SELECT ` + snapshotSelectCols + ` FROM portfolio_snapshots WHERE taken_at < $1 ORDER BY taken_at`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before: %w", err)
	}
	defer rows.Close()

	out, err := scanSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots before: %w", err)
	}
	return out, nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
