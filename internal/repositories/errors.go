package repositories

import "errors"

// Common repository errors
var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
	ErrInvalidInput = errors.New("invalid input")
)

// Allocation errors. They abort the allocation transaction with no effects.
var (
	ErrItemInactive       = errors.New("scarce item is inactive")
	ErrWindowClosed       = errors.New("availability window is closed")
	ErrSoldOut            = errors.New("supply exhausted")
	ErrConcurrentUpdate   = errors.New("claimed count changed during allocation")
	ErrInvariantViolation = errors.New("scarce item ledger invariant violated")
)
