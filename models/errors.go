package models

import "errors"

// Sentinel errors for the trading core. Callers match with errors.Is; the
// concrete message carries context via fmt.Errorf wrapping.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("position not found")
	ErrBelowMinimum     = errors.New("sell size below minimum")
	ErrNoLiquidity      = errors.New("no liquidity")
	ErrFeeUnavailable   = errors.New("fee estimate unavailable")
	ErrTransport        = errors.New("transport failure")
	ErrReverted         = errors.New("transaction reverted")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrPaused           = errors.New("bot is paused")
)
