// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry wraps fallible operations with bounded exponential backoff.
//
// The policy is generic over the operation's result type so it serves
// both connector fetches and cache-store I/O. Failure classification is
// driven by the error value: errors implementing Retryable() bool decide
// for themselves, everything else is treated as retryable transport
// trouble. Errors implementing RetryAfter() can override the computed
// backoff (HTTP 429 Retry-After).
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Config controls the backoff schedule.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	// A value of 3 yields at most 4 invocations.
	MaxRetries int

	// BaseDelay is the first backoff interval. Subsequent intervals
	// double: BaseDelay * 2^attempt.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff interval. Zero means no cap.
	MaxDelay time.Duration

	// Jitter randomizes each interval within [d/2, d] to avoid
	// thundering-herd retries against a single upstream.
	Jitter bool

	// Sleep is injectable for tests. Defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the connector-facing defaults: 3 retries,
// 1 second base delay, 30 second cap, jitter on.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     true,
	}
}

// ExhaustedError wraps the final failure after all attempts are spent.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type retryableError interface {
	Retryable() bool
}

type retryAfterError interface {
	RetryAfter() (time.Duration, bool)
}

// IsRetryable reports whether err should be retried. Errors that
// implement Retryable() decide for themselves; context cancellation is
// never retried; anything else is assumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re retryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}

// Do invokes op until it succeeds, fails permanently, or the attempt
// budget is exhausted.
//
// A non-retryable failure aborts immediately and is returned as-is. An
// exhausted budget returns the last failure wrapped in *ExhaustedError
// so callers can report the attempt count.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, &ExhaustedError{Attempts: attempt, Err: lastErr}
			}
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		if err := sleep(ctx, cfg.delay(attempt, err)); err != nil {
			return zero, &ExhaustedError{Attempts: attempt + 1, Err: lastErr}
		}
	}

	return zero, &ExhaustedError{Attempts: cfg.MaxRetries + 1, Err: lastErr}
}

// delay computes the backoff before retry number attempt+1, honoring an
// upstream Retry-After hint when the error carries one.
func (cfg Config) delay(attempt int, err error) time.Duration {
	var ra retryAfterError
	if errors.As(err, &ra) {
		if d, ok := ra.RetryAfter(); ok && d > 0 {
			return d
		}
	}

	d := cfg.BaseDelay << uint(attempt)
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter && d > 1 {
		half := d / 2
		d = half + time.Duration(rand.Int63n(int64(half)+1))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
