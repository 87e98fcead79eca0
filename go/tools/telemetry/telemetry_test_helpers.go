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

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry is a Telemetry wired to in-memory exporters.
type TestTelemetry struct {
	Telemetry    *Telemetry
	SpanExporter *tracetest.InMemoryExporter
	MetricReader *metric.ManualReader
}

// SpanNames returns the names of the spans exported so far.
func (s *TestTelemetry) SpanNames() []string {
	var names []string
	for _, span := range s.SpanExporter.GetSpans() {
		names = append(names, span.Name)
	}
	return names
}

// Metric collects the current value of the named metric. It fails the
// test if the metric was never recorded.
func (s *TestTelemetry) Metric(t *testing.T, name string) metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, s.MetricReader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	require.Failf(t, "metric not found", "%s", name)
	return metricdata.Metrics{}
}

// restoreGlobals puts the global OpenTelemetry providers back after the
// test.
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	mp := otel.GetMeterProvider()
	prop := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

// SetupTestTelemetry initializes telemetry with in-memory exporters and
// installs it globally for the duration of the test. Instruments created
// by packages before this call keep reporting to the previous provider,
// so callers should create their instruments afterwards.
func SetupTestTelemetry(t *testing.T) *TestTelemetry {
	t.Helper()
	restoreGlobals(t)

	setup := &TestTelemetry{
		SpanExporter: tracetest.NewInMemoryExporter(),
		MetricReader: metric.NewManualReader(),
	}
	setup.Telemetry = NewTelemetry().WithTestExporters(setup.SpanExporter, setup.MetricReader, nil)
	require.NoError(t, setup.Telemetry.Init(context.Background(), "queryvm-test"))
	t.Cleanup(func() {
		_ = setup.Telemetry.Shutdown(context.Background())
	})
	return setup
}
