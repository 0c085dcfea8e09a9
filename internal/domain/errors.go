package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")

	ErrAlreadyOpen       = errors.New("position already open for token")
	ErrNoPrice           = errors.New("no price available")
	ErrNoRoute           = errors.New("no swap route")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSwapReverted      = errors.New("swap reverted")
	ErrTimeout           = errors.New("swap confirmation timed out")
	ErrPositionNotFound  = errors.New("position not found")
	ErrAlreadyClosed     = errors.New("position already closed")
	ErrStoreWriteFailed  = errors.New("position store write failed")

	ErrRefreshInProgress = errors.New("refresh cycle already in progress")
	ErrUnsupportedChain  = errors.New("unsupported chain")
	ErrInvalidSlippage   = errors.New("slippage bps must be between 1 and 9999")
)
