package domain

import (
	"errors"
	"fmt"
)

// ErrPriceUnavailable means both the primary and the fallback price source
// failed for a coin. The coin is excluded from candidacy for the cycle.
var ErrPriceUnavailable = errors.New("price unavailable from all sources")

// ErrNoBaseline means a coin has no PriceSnapshot yet (e.g. freshly added
// to the config). Not fatal; the pair is skipped and logged.
var ErrNoBaseline = errors.New("no baseline snapshot")

// ExecutionFailureKind classifies swap execution failures.
type ExecutionFailureKind string

const (
	FailureInsufficientFunds ExecutionFailureKind = "insufficient_funds"
	FailureAuth              ExecutionFailureKind = "auth"
	FailureRateLimited       ExecutionFailureKind = "rate_limited"
	FailureUnknown           ExecutionFailureKind = "unknown"
)

// ExecutionError is returned by a TradeExecutor when a swap was attempted
// but did not complete. The engine records a failed Trade and retries only
// on the next scheduled cycle.
type ExecutionError struct {
	Kind ExecutionFailureKind
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("swap execution failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("swap execution failed (%s)", e.Kind)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// AsExecutionError unwraps err into an ExecutionError, defaulting the kind
// to unknown so callers always get a classified failure.
func AsExecutionError(err error) *ExecutionError {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee
	}
	return &ExecutionError{Kind: FailureUnknown, Err: err}
}
