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

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/queryvm/queryvm/go/tools/telemetry"
)

// Metrics holds the OpenTelemetry instruments of an engine.
type Metrics struct {
	lookups         metric.Int64Counter
	compileDuration metric.Float64Histogram
	discarded       metric.Int64Counter
	entries         metric.Int64UpDownCounter
}

// NewMetrics creates the engine instruments from the global MeterProvider.
// Instruments that fail to initialize fall back to noop implementations and
// are reported in the returned error; the returned Metrics is always usable.
func NewMetrics() (*Metrics, error) {
	meter := telemetry.Meter("engine")
	m := &Metrics{}
	var errs []error

	var err error
	m.lookups, err = meter.Int64Counter(
		"queryvm.engine.cache.lookups",
		metric.WithDescription("Compile cache lookups, by mode and result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("cache lookups counter: %w", err))
		m.lookups = noop.Int64Counter{}
	}

	m.compileDuration, err = meter.Float64Histogram(
		"queryvm.engine.compile.duration",
		metric.WithDescription("Duration of compiling sql into a cached artifact, including runner build"),
		metric.WithUnit("s"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("compile duration histogram: %w", err))
		m.compileDuration = noop.Float64Histogram{}
	}

	m.discarded, err = meter.Int64Counter(
		"queryvm.engine.cache.discarded",
		metric.WithDescription("Compiled artifacts dropped because another compile of the same key was cached first"),
		metric.WithUnit("{artifact}"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("cache discarded counter: %w", err))
		m.discarded = noop.Int64Counter{}
	}

	m.entries, err = meter.Int64UpDownCounter(
		"queryvm.engine.cache.entries",
		metric.WithDescription("Compiled artifacts currently cached"),
		metric.WithUnit("{artifact}"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("cache entries counter: %w", err))
		m.entries = noop.Int64UpDownCounter{}
	}

	return m, errors.Join(errs...)
}

func (m *Metrics) recordLookup(ctx context.Context, mode Mode, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode.String()),
		attribute.String("result", result),
	))
}

func (m *Metrics) recordCompile(ctx context.Context, mode Mode, err error, d time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.compileDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("mode", mode.String()),
		attribute.String("result", result),
	))
}

func (m *Metrics) recordDiscard(ctx context.Context, mode Mode) {
	m.discarded.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode.String())))
}

func (m *Metrics) addEntries(ctx context.Context, mode Mode, n int) {
	if n == 0 {
		return
	}
	m.entries.Add(ctx, int64(n), metric.WithAttributes(attribute.String("mode", mode.String())))
}
