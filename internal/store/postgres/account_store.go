package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountSelectCols = `id, wallet, initial_balance, created_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.Wallet, &a.InitialBalance, &a.CreatedAt); err != nil {
		return domain.Account{}, err
	}
	a.CreatedAt = utc(a.CreatedAt)
	return a, nil
}

// Create inserts acct. A duplicate id or wallet returns domain.ErrAlreadyExists.
func (s *AccountStore) Create(ctx context.Context, acct domain.Account) error {
	const query = `
		INSERT INTO accounts (id, wallet, initial_balance, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, query, acct.ID, acct.Wallet, acct.InitialBalance, acct.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create account %s: %w", acct.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create account %s: %w", acct.ID, err)
	}
	return nil
}

// GetByID returns the account with the given id.
func (s *AccountStore) GetByID(ctx context.Context, id string) (domain.Account, error) {
	query := `SELECT ` + accountSelectCols + ` FROM accounts WHERE id = $1`
	a, err := scanAccount(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("postgres: account %s: %w", id, domain.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return a, nil
}

// GetByWallet returns the account owning wallet.
func (s *AccountStore) GetByWallet(ctx context.Context, wallet string) (domain.Account, error) {
	query := `SELECT ` + accountSelectCols + ` FROM accounts WHERE wallet = $1`
	a, err := scanAccount(s.pool.QueryRow(ctx, query, wallet))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("postgres: account for wallet %s: %w", wallet, domain.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("postgres: get account by wallet: %w", err)
	}
	return a, nil
}

// List returns all accounts ordered by creation time.
func (s *AccountStore) List(ctx context.Context) ([]domain.Account, error) {
	query := `SELECT ` + accountSelectCols + ` FROM accounts ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list accounts rows: %w", err)
	}
	return out, nil
}

var _ domain.AccountStore = (*AccountStore)(nil)
