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

// Package retry paces retry loops with capped exponential backoff and
// full jitter.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Retry holds the backoff state of one retry loop. It is not safe for
// concurrent use.
//
//	r := retry.New(100*time.Millisecond, 10*time.Second)
//	for {
//		if err := r.StartAttempt(ctx); err != nil {
//			return err
//		}
//		if err := work(); err == nil {
//			return nil
//		}
//	}
type Retry struct {
	baseDelay, maxDelay time.Duration
	attempt   int
	// exp counts attempts since the last Reset.
	exp   int
	after func(time.Duration) <-chan time.Time
	rand  func(n int64) int64
}

// New returns a Retry whose n-th wait is drawn uniformly from
// [0, min(maxDelay, baseDelay*2^n)). It panics if either bound is not
// positive or baseDelay exceeds maxDelay.
func New(baseDelay, maxDelay time.Duration) *Retry {
	if baseDelay <= 0 || maxDelay <= 0 || baseDelay > maxDelay {
		panic("retry: invalid backoff bounds")
	}
	return &Retry{baseDelay: baseDelay, maxDelay: maxDelay, after: time.After, rand: rand.Int64N}
}

// StartAttempt returns nil when the caller should make its next attempt.
// The first call returns immediately; later calls wait out the backoff.
// It returns ctx.Err() if ctx ends first.
func (r *Retry) StartAttempt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.attempt > 0 {
		select {
		case <-r.after(r.nextDelay()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.attempt++
	return nil
}

func (r *Retry) nextDelay() time.Duration {
	d := r.maxDelay
	if r.exp < 62 {
		if c := r.baseDelay << r.exp; c > 0 && c < r.maxDelay {
			d = c
		}
	}
	r.exp++
	return time.Duration(r.rand(int64(d)))
}

// Attempt returns how many attempts have been started.
func (r *Retry) Attempt() int { return r.attempt }

// Reset drops the backoff back to baseDelay, typically after a long stretch of
// success. The attempt count keeps growing.
func (r *Retry) Reset() { r.exp = 0 }
