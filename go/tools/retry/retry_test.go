// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRetry returns a Retry that waits no time, takes the upper bound
// of every jitter range and records the bounds it drew from.
func recordingRetry(baseDelay, maxDelay time.Duration) (*Retry, *[]time.Duration) {
	var bounds []time.Duration
	r := New(baseDelay, maxDelay)
	r.rand = func(n int64) int64 {
		bounds = append(bounds, time.Duration(n))
		return n - 1
	}
	r.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	return r, &bounds
}

func TestStartAttemptBackoff(t *testing.T) {
	r, bounds := recordingRetry(10*time.Millisecond, 50*time.Millisecond)
	ctx := context.Background()

	for range 6 {
		require.NoError(t, r.StartAttempt(ctx))
	}
	assert.Equal(t, 6, r.Attempt())
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
		50 * time.Millisecond,
	}, *bounds)
}

func TestReset(t *testing.T) {
	r, bounds := recordingRetry(time.Millisecond, time.Second)
	ctx := context.Background()

	for range 4 {
		require.NoError(t, r.StartAttempt(ctx))
	}
	r.Reset()
	require.NoError(t, r.StartAttempt(ctx))

	assert.Equal(t, time.Millisecond, (*bounds)[len(*bounds)-1])
	assert.Equal(t, 5, r.Attempt())
}

func TestStartAttemptContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(time.Hour, time.Hour)
	r.rand = func(n int64) int64 { return n - 1 }

	require.NoError(t, r.StartAttempt(ctx))

	done := make(chan error, 1)
	go func() { done <- r.StartAttempt(ctx) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.ErrorIs(t, r.StartAttempt(ctx), context.Canceled)
	assert.Equal(t, 1, r.Attempt())
}

func TestNewPanicsOnInvalidBounds(t *testing.T) {
	assert.Panics(t, func() { New(0, time.Second) })
	assert.Panics(t, func() { New(time.Second, 0) })
	assert.Panics(t, func() { New(2*time.Second, time.Second) })
}

func TestJitterStaysInRange(t *testing.T) {
	r := New(time.Millisecond, 8*time.Millisecond)
	for range 100 {
		d := r.nextDelay()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 8*time.Millisecond)
	}
}
