package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrWSDisconnect  = errors.New("websocket disconnected")

	// Ledger and execution.
	ErrInvalidPrice         = errors.New("invalid price")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientCapital  = errors.New("insufficient capital")
	ErrInsufficientQuantity = errors.New("insufficient quantity")

	// Admission.
	ErrDuplicateToken   = errors.New("token already has an open session or position")
	ErrConcurrencyLimit = errors.New("concurrent session limit reached")
	ErrTradeTooSmall    = errors.New("trade size below minimum")
	ErrQueueRejected    = errors.New("signal queue rejected signal")
	ErrUnknownAccount   = errors.New("unknown account")

	// External collaborators.
	ErrFeedUnavailable     = errors.New("feed unavailable")
	ErrDependencyExhausted = errors.New("external dependency exhausted")
	ErrAddressExhausted    = errors.New("wallet address generation exhausted")
)
