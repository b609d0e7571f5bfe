// Package wallet registers simulated accounts, each identified by a random
// Solana-style base58 address and funded with a random starting balance.
package wallet

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math"
	mrand "math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// Default registration values.
const (
	DefaultMaxAttempts = 10
	DefaultMinBalance  = 10.0
	DefaultMaxBalance  = 20.0
	lockTTL            = 10 * time.Second
)

// RandomAddress returns the base58 encoding of 32 random bytes, the shape of
// a Solana public key.
func RandomAddress() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("wallet: random address: %w", err)
	}
	return base58.Encode(b[:]), nil
}

// Registrar creates accounts with unique addresses. Address collisions are
// retried a bounded number of times before giving up with
// domain.ErrAddressExhausted.
type Registrar struct {
	accounts    domain.AccountStore
	locks       domain.LockManager
	maxAttempts int
	minBalance  float64
	maxBalance  float64
	newAddress  func() (string, error)
	logger      *slog.Logger
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithLockManager serialises registration of the same address across
// processes.
func WithLockManager(l domain.LockManager) Option {
	return func(r *Registrar) {
		r.locks = l
	}
}

// WithMaxAttempts bounds the number of addresses tried per registration.
func WithMaxAttempts(n int) Option {
	return func(r *Registrar) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithBalanceRange sets the uniform range of starting balances.
func WithBalanceRange(lo, hi float64) Option {
	return func(r *Registrar) {
		if lo > 0 && hi >= lo {
			r.minBalance, r.maxBalance = lo, hi
		}
	}
}

// WithAddressGenerator replaces RandomAddress.
func WithAddressGenerator(fn func() (string, error)) Option {
	return func(r *Registrar) {
		r.newAddress = fn
	}
}

// NewRegistrar creates a Registrar persisting into accounts.
func NewRegistrar(accounts domain.AccountStore, logger *slog.Logger, opts ...Option) *Registrar {
	r := &Registrar{
		accounts:    accounts,
		maxAttempts: DefaultMaxAttempts,
		minBalance:  DefaultMinBalance,
		maxBalance:  DefaultMaxBalance,
		newAddress:  RandomAddress,
		logger:      logger.With(slog.String("component", "wallet")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a new account with a fresh address and a random balance
// rounded to four decimals.
func (r *Registrar) Register(ctx context.Context) (domain.Account, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		addr, err := r.newAddress()
		if err != nil {
			return domain.Account{}, err
		}

		acct, err := r.create(ctx, addr)
		if err == nil {
			r.logger.InfoContext(ctx, "wallet registered",
				slog.String("account", acct.ID),
				slog.String("wallet", addr),
				slog.Float64("balance", acct.InitialBalance),
			)
			return acct, nil
		}
		if !errors.Is(err, domain.ErrAlreadyExists) && !errors.Is(err, domain.ErrLockHeld) {
			return domain.Account{}, err
		}
		r.logger.WarnContext(ctx, "wallet address collision",
			slog.String("wallet", addr),
			slog.Int("attempt", attempt),
		)
	}
	return domain.Account{}, fmt.Errorf("wallet: register after %d attempts: %w", r.maxAttempts, domain.ErrAddressExhausted)
}

func (r *Registrar) create(ctx context.Context, addr string) (domain.Account, error) {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, "wallet:"+addr, lockTTL)
		if err != nil {
			return domain.Account{}, err
		}
		defer unlock()
	}

	if _, err := r.accounts.GetByWallet(ctx, addr); err == nil {
		return domain.Account{}, domain.ErrAlreadyExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Account{}, fmt.Errorf("wallet: lookup %s: %w", addr, err)
	}

	acct := domain.Account{
		ID:             uuid.NewString(),
		Wallet:         addr,
		InitialBalance: r.balance(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.accounts.Create(ctx, acct); err != nil {
		return domain.Account{}, fmt.Errorf("wallet: create %s: %w", addr, err)
	}
	return acct, nil
}

func (r *Registrar) balance() float64 {
	b := r.minBalance + mrand.Float64()*(r.maxBalance-r.minBalance)
	return math.Round(b*1e4) / 1e4
}

// Authenticate returns the account owning wallet, or domain.ErrNotFound.
func (r *Registrar) Authenticate(ctx context.Context, wallet string) (domain.Account, error) {
	acct, err := r.accounts.GetByWallet(ctx, wallet)
	if err != nil {
		return domain.Account{}, fmt.Errorf("wallet: authenticate: %w", err)
	}
	return acct, nil
}

// GetOrCreate returns the account for wallet, registering it with a random
// balance when it does not exist yet.
func (r *Registrar) GetOrCreate(ctx context.Context, wallet string) (domain.Account, error) {
	acct, err := r.accounts.GetByWallet(ctx, wallet)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Account{}, fmt.Errorf("wallet: lookup %s: %w", wallet, err)
	}
	acct, err = r.create(ctx, wallet)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return r.accounts.GetByWallet(ctx, wallet)
	}
	return acct, err
}

// Ensure returns the account matching want, creating it when neither its ID
// nor its wallet is known yet. An empty wallet gets a fresh address and a
// non-positive balance a random one. Existing accounts are returned as
// stored; their balance is never rewritten.
func (r *Registrar) Ensure(ctx context.Context, want domain.Account) (domain.Account, error) {
	if want.ID != "" {
		acct, err := r.accounts.GetByID(ctx, want.ID)
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Account{}, fmt.Errorf("wallet: lookup %s: %w", want.ID, err)
		}
	}
	if want.Wallet != "" {
		acct, err := r.accounts.GetByWallet(ctx, want.Wallet)
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Account{}, fmt.Errorf("wallet: lookup %s: %w", want.Wallet, err)
		}
	}

	if want.ID == "" {
		want.ID = uuid.NewString()
	}
	if want.InitialBalance <= 0 {
		want.InitialBalance = r.balance()
	}
	if want.CreatedAt.IsZero() {
		want.CreatedAt = time.Now().UTC()
	}

	if want.Wallet != "" {
		if err := r.accounts.Create(ctx, want); err != nil {
			return domain.Account{}, fmt.Errorf("wallet: create %s: %w", want.ID, err)
		}
		return want, nil
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		addr, err := r.newAddress()
		if err != nil {
			return domain.Account{}, err
		}
		want.Wallet = addr
		err = r.accounts.Create(ctx, want)
		if err == nil {
			r.logger.InfoContext(ctx, "wallet provisioned",
				slog.String("account", want.ID),
				slog.String("wallet", addr),
				slog.Float64("balance", want.InitialBalance),
			)
			return want, nil
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Account{}, fmt.Errorf("wallet: create %s: %w", want.ID, err)
		}
	}
	return domain.Account{}, fmt.Errorf("wallet: provision %s after %d attempts: %w", want.ID, r.maxAttempts, domain.ErrAddressExhausted)
}
