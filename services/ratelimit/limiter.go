// Package ratelimit throttles calls to external market data providers.
//
// Providers enforce implicit request ceilings and respond with rate-limit
// errors when exceeded. The limiter combines a shared token bucket with a
// per-call randomized delay, and retries retryable failures with exponential
// backoff.
package ratelimit

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// retryable is implemented by errors that are worth retrying, e.g. network
// failures or HTTP 429 responses from a data provider.
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err should be retried by Execute.
// Context errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// Config holds limiter tuning parameters.
type Config struct {
	MinDelay   time.Duration // lower bound of the per-call random delay
	MaxDelay   time.Duration // upper bound of the per-call random delay
	MaxRetries int           // retries after the first attempt
	RetryDelay time.Duration // initial backoff delay, doubled per attempt
	BackoffCap time.Duration // upper bound for the backoff delay
	Rate       float64       // requests per second allowed through the bucket
	Burst      int
}

// Limiter throttles and retries calls to an external data source.
// Safe for concurrent use; unrelated callers are only serialized by the
// shared token bucket, never by a global lock around the call itself.
type Limiter struct {
	cfg    Config
	bucket *rate.Limiter

	mu  sync.Mutex
	rnd *rand.Rand
}

// New creates a limiter from cfg, applying defaults for zero fields.
func New(cfg Config) *Limiter {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{
		cfg:    cfg,
		bucket: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Acquire blocks until the shared rate ceiling admits a request, then for a
// delay drawn uniformly from [MinDelay, MaxDelay]. It returns early with the
// context error if ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}
	return sleepCtx(ctx, l.jitter())
}

// Execute runs fn under the rate ceiling, retrying retryable failures up to
// MaxRetries times with exponential backoff. Non-retryable failures propagate
// immediately; the last error is returned when all attempts fail.
func (l *Limiter) Execute(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := l.cfg.RetryDelay

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if err := l.Acquire(ctx); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				log.Printf("rate limiter: call succeeded after %d retries", attempt)
			}
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt < l.cfg.MaxRetries {
			log.Printf("rate limiter: retryable failure, retrying in %s (attempt %d/%d): %v",
				delay, attempt+1, l.cfg.MaxRetries, err)
			if serr := sleepCtx(ctx, delay); serr != nil {
				return serr
			}
			delay *= 2
			if delay > l.cfg.BackoffCap {
				delay = l.cfg.BackoffCap
			}
		}
	}

	log.Printf("rate limiter: giving up after %d retries: %v", l.cfg.MaxRetries, lastErr)
	return lastErr
}

// jitter returns a random delay in [MinDelay, MaxDelay].
func (l *Limiter) jitter() time.Duration {
	span := l.cfg.MaxDelay - l.cfg.MinDelay
	if span <= 0 {
		return l.cfg.MinDelay
	}
	l.mu.Lock()
	n := l.rnd.Int63n(int64(span) + 1)
	l.mu.Unlock()
	return l.cfg.MinDelay + time.Duration(n)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
