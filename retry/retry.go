/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry runs idempotent remote operations with capped exponential
// backoff and jitter.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Config controls how often and how patiently an operation is retried.
type Config struct {
	// MaxRetries is the number of retries after the first attempt. 0 disables
	// retrying.
	MaxRetries int
	// BaseBackoff is the delay before the first retry; it doubles per attempt.
	BaseBackoff time.Duration
	// MaxBackoff caps the exponential delay.
	MaxBackoff time.Duration
	// MaxJitter is the upper bound of random delay added to every backoff.
	MaxJitter time.Duration
}

// Validate checks that the configuration has no negative values.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return errors.New("max retries cannot be negative")
	case c.BaseBackoff < 0:
		return errors.New("base backoff cannot be negative")
	case c.MaxBackoff < 0:
		return errors.New("max backoff cannot be negative")
	case c.MaxJitter < 0:
		return errors.New("max jitter cannot be negative")
	}
	return nil
}

// DefaultConfig suits hosted Git APIs: a handful of retries with backoff long
// enough to ride out a secondary rate limit.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  10 * time.Second,
		MaxJitter:   250 * time.Millisecond,
	}
}

// Disabled returns a Config that never retries.
func Disabled() Config {
	return Config{}
}

// Do runs fn until it succeeds, returns an error isRetryable rejects, the
// retries are exhausted, or ctx is done.
func Do[T any](ctx context.Context, cfg Config, operation string, isRetryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var (
		result  T
		lastErr error
	)

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, lastErr = fn(ctx)
		if lastErr == nil {
			return result, nil
		}
		if !isRetryable(lastErr) || attempt >= cfg.MaxRetries {
			break
		}

		wait := backoff(cfg, attempt)
		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt+1).
			With("max_retries", cfg.MaxRetries).
			With("backoff", wait).
			With("error", lastErr.Error()).
			Warn("Transient error, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, fmt.Errorf("%s: %w", operation, errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}

	if cfg.MaxRetries > 0 && isRetryable(lastErr) {
		return result, fmt.Errorf("%s failed after %d retries: %w", operation, cfg.MaxRetries, lastErr)
	}
	return result, lastErr
}

func backoff(cfg Config, attempt int) time.Duration {
	limit := time.Duration(math.MaxInt64)
	if cfg.MaxBackoff > 0 {
		limit = cfg.MaxBackoff
	}
	// Doubling stops at the cap so large attempts cannot overflow.
	wait := cfg.BaseBackoff
	for i := 0; i < attempt && wait < limit; i++ {
		if wait > limit/2 {
			wait = limit
			break
		}
		wait *= 2
	}
	wait = min(wait, limit)
	if cfg.MaxJitter > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(cfg.MaxJitter))); err == nil {
			wait += min(time.Duration(n.Int64()), math.MaxInt64-wait)
		}
	}
	return wait
}
