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

package command

import (
	"context"
	"time"

	"github.com/queryvm/queryvm/go/services/queryvm/catalog"
	"github.com/queryvm/queryvm/go/tools/retry"
	"github.com/queryvm/queryvm/go/tools/timer"
)

// Watches that survive this long reset the restart backoff.
const watchStableAfter = time.Minute

var newWatchRetry = func() *retry.Retry { return retry.New(500*time.Millisecond, 30*time.Second) }

// watchCatalog runs src.Watch until ctx is done, restarting it with backoff
// whenever it fails. Changes missed while the watch was down are picked up
// by reloading the whole catalog before each restart.
func (qc *QueryVMCommand) watchCatalog(ctx context.Context, src catalogSource, onChange func(*catalog.MemCatalog)) {
	r := newWatchRetry()
	for {
		if err := r.StartAttempt(ctx); err != nil {
			return
		}
		if r.Attempt() > 1 {
			cat, err := src.Load(ctx)
			if err != nil {
				qc.logger.WarnContext(ctx, "catalog reload failed", "attempt", r.Attempt(), "error", err)
				continue
			}
			onChange(cat)
		}

		start := time.Now()
		err := src.Watch(ctx, onChange)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) >= watchStableAfter {
			r.Reset()
		}
		qc.logger.WarnContext(ctx, "catalog watch stopped, restarting", "attempt", r.Attempt(), "error", err)
	}
}

// pollCatalog hands the result of load to onChange every interval until ctx
// is done. Failed loads keep the current catalog.
func (qc *QueryVMCommand) pollCatalog(ctx context.Context, interval time.Duration, load func(context.Context) (*catalog.MemCatalog, error), onChange func(*catalog.MemCatalog)) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	pr := timer.NewPeriodicRunner(ctx, interval)
	pr.Start(func(ctx context.Context) {
		cat, err := load(ctx)
		if err != nil {
			if ctx.Err() == nil {
				qc.logger.WarnContext(ctx, "catalog refresh failed", "error", err)
			}
			return
		}
		onChange(cat)
	})
	<-ctx.Done()
	pr.Stop()
}
