// Package retry provides the exponential-backoff-with-jitter helper shared
// by every component that calls a rate-limited external dependency: the
// scraper's PageFetcher, the TokenResolver's oracle client, and each
// MarketEnricher provider.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy configures exponential backoff with jitter.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxAttempts int
}

// Default is the standard backoff for external calls: base 500ms, factor
// 2, cap 8s, max 5 attempts.
func Default() Policy {
	return Policy{BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second, MaxAttempts: 5}
}

// Delay returns the backoff duration before attempt number n (1-indexed),
// with up to 50% jitter subtracted.
func Delay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if max < base {
		max = base
	}
	exp := base * time.Duration(1<<uint(attempt-1))
	if exp > max {
		exp = max
	}
	if exp <= 1 {
		return exp
	}
	jitter := time.Duration(rand.Int63n(int64(exp) / 2))
	return exp - jitter
}

// ErrRateLimited signals the wrapped operation should stop retrying and let
// the caller apply a cooldown instead.
var ErrRateLimited = errors.New("retry: rate limited")

// Do runs fn up to p.MaxAttempts times, sleeping Delay between attempts,
// stopping early on ctx cancellation or a nil error. It returns the last
// error if every attempt failed.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrRateLimited) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		sleep := Delay(p.BaseDelay, p.MaxDelay, attempt)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
