package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// SessionStore implements domain.SessionStore using PostgreSQL. The
// originating signal and the action log are stored as JSONB.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new SessionStore backed by the given connection pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const sessionSelectCols = `id, account_id, token, status, reason,
	entry_price, quantity, stop_loss, pnl, pnl_percent,
	signal, actions, started_at, ended_at`

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	var status string
	var signalJSON, actionsJSON []byte

	err := row.Scan(
		&s.ID, &s.AccountID, &s.Token, &status, &s.Reason,
		&s.EntryPrice, &s.Quantity, &s.StopLoss, &s.PnL, &s.PnLPercent,
		&signalJSON, &actionsJSON, &s.StartedAt, &s.EndedAt,
	)
	if err != nil {
		return domain.Session{}, err
	}
	s.Status = domain.SessionStatus(status)
	s.StartedAt = utc(s.StartedAt)
	if s.EndedAt != nil {
		t := utc(*s.EndedAt)
		s.EndedAt = &t
	}
	if len(signalJSON) > 0 {
		if err := json.Unmarshal(signalJSON, &s.Signal); err != nil {
			return domain.Session{}, fmt.Errorf("unmarshal signal: %w", err)
		}
	}
	if len(actionsJSON) > 0 {
		if err := json.Unmarshal(actionsJSON, &s.Actions); err != nil {
			return domain.Session{}, fmt.Errorf("unmarshal actions: %w", err)
		}
	}
	return s, nil
}

// Upsert inserts the session or replaces the mutable columns of an existing
// row.
func (s *SessionStore) Upsert(ctx context.Context, sess domain.Session) error {
	signalJSON, err := json.Marshal(sess.Signal)
	if err != nil {
		return fmt.Errorf("postgres: marshal session signal: %w", err)
	}
	actions := sess.Actions
	if actions == nil {
		actions = []domain.SessionAction{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("postgres: marshal session actions: %w", err)
	}

	const query = `
		INSERT INTO sessions (
			id, account_id, token, status, reason,
			entry_price, quantity, stop_loss, pnl, pnl_percent,
			signal, actions, started_at, ended_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status      = EXCLUDED.status,
			reason      = EXCLUDED.reason,
			entry_price = EXCLUDED.entry_price,
			quantity    = EXCLUDED.quantity,
			stop_loss   = EXCLUDED.stop_loss,
			pnl         = EXCLUDED.pnl,
			pnl_percent = EXCLUDED.pnl_percent,
			actions     = EXCLUDED.actions,
			ended_at    = EXCLUDED.ended_at,
			updated_at  = NOW()`

	_, err = s.pool.Exec(ctx, query,
		sess.ID, sess.AccountID, sess.Token, string(sess.Status), sess.Reason,
		sess.EntryPrice, sess.Quantity, sess.StopLoss, sess.PnL, sess.PnLPercent,
		signalJSON, actionsJSON, sess.StartedAt, sess.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert session %s: %w", sess.ID, err)
	}
	return nil
}

// GetByID returns the session with the given id.
func (s *SessionStore) GetByID(ctx context.Context, id string) (domain.Session, error) {
	query := `SELECT ` + sessionSelectCols + ` FROM sessions WHERE id = $1`
	sess, err := scanSession(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, fmt.Errorf("postgres: session %s: %w", id, domain.ErrNotFound)
		}
		return domain.Session{}, fmt.Errorf("postgres: get session %s: %w", id, err)
	}
	return sess, nil
}

// ListByAccount returns the account's sessions newest first.
func (s *SessionStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Session, error) {
	query, args := appendListOpts(
		`SELECT `+sessionSelectCols+` FROM sessions WHERE account_id = $1`,
		[]any{accountID}, "started_at", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list sessions rows: %w", err)
	}
	return out, nil
}

var _ domain.SessionStore = (*SessionStore)(nil)
