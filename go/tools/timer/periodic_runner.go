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

// Package timer runs a callback on a fixed interval.
package timer

import (
	"context"
	"sync"
	"time"
)

// PeriodicRunner calls a callback every interval until stopped. The next
// call is scheduled only once the previous one has returned, so slow
// callbacks never overlap.
type PeriodicRunner struct {
	parent   context.Context
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	timer  *time.Timer
	wg     sync.WaitGroup
}

// NewPeriodicRunner returns a stopped runner. Callback contexts derive from
// ctx.
func NewPeriodicRunner(ctx context.Context, interval time.Duration) *PeriodicRunner {
	return &PeriodicRunner{parent: ctx, interval: interval}
}

// Start schedules fn. It returns false if the runner is already running.
func (r *PeriodicRunner) Start(fn func(ctx context.Context)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(r.parent)
	r.cancel = cancel
	r.schedule(ctx, fn)
	return true
}

// schedule must be called with r.mu held.
func (r *PeriodicRunner) schedule(ctx context.Context, fn func(ctx context.Context)) {
	r.timer = time.AfterFunc(r.interval, func() {
		r.mu.Lock()
		if ctx.Err() != nil {
			r.mu.Unlock()
			return
		}
		r.wg.Add(1)
		r.mu.Unlock()

		fn(ctx)

		r.mu.Lock()
		if ctx.Err() == nil {
			r.schedule(ctx, fn)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Stop cancels the callback context and waits for a running callback to
// return. The runner can be started again afterwards.
func (r *PeriodicRunner) Stop() {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.cancel = nil
	r.timer.Stop()
	r.mu.Unlock()

	r.wg.Wait()
}

// Running reports whether the runner has been started and not stopped.
func (r *PeriodicRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}
