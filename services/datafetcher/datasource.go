// Package datafetcher talks to external market data providers.
package datafetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/pananq/stock-analysis-app/models"
)

// SymbolInfo is one entry of a provider's symbol listing.
type SymbolInfo struct {
	Code     string
	Name     string
	Exchange string
}

// DataSource is the narrow interface the import tasks consume. Implementations
// must distinguish retryable failures (network, provider rate limiting) from
// terminal ones so the rate limiter can decide whether to retry.
type DataSource interface {
	// ListSymbols returns the provider's full symbol list.
	ListSymbols(ctx context.Context) ([]SymbolInfo, error)
	// FetchHistory returns daily bars for code in [from, to], oldest first.
	// A symbol with no data in the range returns an empty slice, not an error.
	FetchHistory(ctx context.Context, code string, from, to time.Time) ([]models.DailyBar, error)
}

// RetryableError marks a failure as transient: network trouble, timeouts or
// provider-side rate limiting. The rate limiter retries these with backoff.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }

// Unwrap exposes the underlying error to errors.Is/As.
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable satisfies the classification interface checked by ratelimit.
func (e *RetryableError) Retryable() bool { return true }

// Retryablef wraps a formatted error as retryable.
func Retryablef(format string, args ...interface{}) error {
	return &RetryableError{Err: fmt.Errorf(format, args...)}
}
