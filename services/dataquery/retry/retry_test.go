// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type classifiedError struct {
	msg       string
	retryable bool
	after     time.Duration
}

func (e *classifiedError) Error() string   { return e.msg }
func (e *classifiedError) Retryable() bool { return e.retryable }

func (e *classifiedError) RetryAfter() (time.Duration, bool) {
	return e.after, e.after > 0
}

// noSleep makes backoff instantaneous and records requested delays.
func noSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Config{MaxRetries: 3, BaseDelay: time.Millisecond},
		func(context.Context) (string, error) {
			calls++
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestDoRetryableExhaustsBudget(t *testing.T) {
	var delays []time.Duration
	calls := 0
	cfg := Config{MaxRetries: 3, BaseDelay: time.Second, Sleep: noSleep(&delays)}

	_, err := Do(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, &classifiedError{msg: "upstream 503", retryable: true}
	})

	// maxRetries + 1 total invocations.
	assert.Equal(t, 4, calls)

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 4, ex.Attempts)
	assert.Contains(t, ex.Error(), "upstream 503")

	// Full exponential schedule without jitter: 1s, 2s, 4s.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestDoNonRetryableAbortsImmediately(t *testing.T) {
	calls := 0
	permanent := &classifiedError{msg: "400 bad request", retryable: false}

	_, err := Do(context.Background(), Config{MaxRetries: 3, BaseDelay: time.Millisecond},
		func(context.Context) (int, error) {
			calls++
			return 0, permanent
		})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, permanent)

	var ex *ExhaustedError
	assert.False(t, errors.As(err, &ex), "permanent failure must not be wrapped as exhaustion")
}

func TestDoRecoversAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	calls := 0
	cfg := Config{MaxRetries: 3, BaseDelay: time.Second, Sleep: noSleep(&delays)}

	got, err := Do(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &classifiedError{msg: "timeout", retryable: true}
		}
		return "recovered", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2)
}

func TestDoHonorsRetryAfterHint(t *testing.T) {
	var delays []time.Duration
	cfg := Config{MaxRetries: 1, BaseDelay: time.Second, Sleep: noSleep(&delays)}

	_, err := Do(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, &classifiedError{msg: "rate limited", retryable: true, after: 7 * time.Second}
	})

	require.Error(t, err)
	require.Len(t, delays, 1)
	assert.Equal(t, 7*time.Second, delays[0])
}

func TestDoMaxDelayCap(t *testing.T) {
	var delays []time.Duration
	cfg := Config{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 3 * time.Second, Sleep: noSleep(&delays)}

	_, _ = Do(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, &classifiedError{msg: "flaky", retryable: true}
	})

	for _, d := range delays {
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestDoJitterStaysWithinBounds(t *testing.T) {
	var delays []time.Duration
	cfg := Config{MaxRetries: 4, BaseDelay: 8 * time.Second, Jitter: true, Sleep: noSleep(&delays)}

	_, _ = Do(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, &classifiedError{msg: "flaky", retryable: true}
	})

	require.Len(t, delays, 4)
	for i, d := range delays {
		full := 8 * time.Second << uint(i)
		assert.GreaterOrEqual(t, d, full/2, "delay %d below jitter floor", i)
		assert.LessOrEqual(t, d, full, "delay %d above jitter ceiling", i)
	}
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, Config{MaxRetries: 10, BaseDelay: time.Millisecond},
		func(context.Context) (int, error) {
			calls++
			cancel()
			return 0, &classifiedError{msg: "transient", retryable: true}
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancelled context must stop the retry loop")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error defaults to retryable", errors.New("boom"), true},
		{"classified retryable", &classifiedError{retryable: true}, true},
		{"classified permanent", &classifiedError{retryable: false}, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
