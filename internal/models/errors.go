package models

import (
	"fmt"
)

// FetchError is returned when a position-change query fails.
type FetchError struct {
	FromBlock uint64
	ToBlock   uint64
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch traders in blocks [%d, %d]: %v", e.FromBlock, e.ToBlock, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CheckError is a failed liquidatability check of a single chunk.
type CheckError struct {
	Traders []Trader
	Offset  int
	Total   int
	Err     error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("check traders [%d, %d) of %d: %v", e.Offset, e.Offset+len(e.Traders), e.Total, e.Err)
}

func (e *CheckError) Unwrap() error { return e.Err }

// LiquidationError is a failed liquidation of a single trader.
type LiquidationError struct {
	Trader Trader
	Err    error
}

func (e *LiquidationError) Error() string {
	return fmt.Sprintf("liquidate %s: %v", e.Trader.Hex(), e.Err)
}

func (e *LiquidationError) Unwrap() error { return e.Err }
