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
	"log/slog"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"
)

func TestInitAndShutdown(t *testing.T) {
	setup := SetupTestTelemetry(t)
	tel := setup.Telemetry

	assert.True(t, tel.initialized)
	assert.Equal(t, tel.tracerProvider, otel.GetTracerProvider())
	assert.Equal(t, tel.meterProvider, otel.GetMeterProvider())
	require.NoError(t, tel.ForceFlush(context.Background()))

	// Idempotent.
	require.NoError(t, tel.Init(context.Background(), "other"))

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.initialized)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestShutdownBeforeInit(t *testing.T) {
	require.NoError(t, NewTelemetry().Shutdown(context.Background()))
}

func TestForceFlushBeforeInit(t *testing.T) {
	require.NoError(t, NewTelemetry().ForceFlush(context.Background()))
}

func TestTracerAndMeterExport(t *testing.T) {
	setup := SetupTestTelemetry(t)
	ctx := context.Background()

	_, span := Tracer().Start(ctx, "queryvm.test.Span")
	span.End()
	assert.Equal(t, []string{"queryvm.test.Span"}, setup.SpanNames())

	counter, err := Meter("test").Int64Counter("queryvm.test.count")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	m := setup.Metric(t, "queryvm.test.count")
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)
}

func TestInitForCommand(t *testing.T) {
	setup := SetupTestTelemetry(t)

	cmd := &cobra.Command{Use: "explain"}
	cmd.SetContext(context.Background())
	span, err := setup.Telemetry.InitForCommand(cmd, "queryvm", true)
	require.NoError(t, err)
	require.NotNil(t, span)
	assert.Equal(t, span.SpanContext(), trace.SpanContextFromContext(cmd.Context()))
	span.End()

	assert.Equal(t, []string{"queryvm.explain"}, setup.SpanNames())
}

func TestInitForCommandTraceparent(t *testing.T) {
	setup := SetupTestTelemetry(t)
	t.Setenv("TRACEPARENT", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	cmd := &cobra.Command{Use: "query"}
	cmd.SetContext(context.Background())
	span, err := setup.Telemetry.InitForCommand(cmd, "queryvm", true)
	require.NoError(t, err)
	span.End()

	spans := setup.SpanExporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext.TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent.SpanID().String())
}

func TestWrapSlogHandler(t *testing.T) {
	setup := SetupTestTelemetry(t)
	ctx := context.Background()

	var attrs map[string]string
	base := &testHandler{onHandle: func(_ context.Context, r slog.Record) error {
		attrs = map[string]string{}
		r.Attrs(func(a slog.Attr) bool {
			attrs[a.Key] = a.Value.String()
			return true
		})
		return nil
	}}
	logger := slog.New(setup.Telemetry.WrapSlogHandler(base))

	logger.InfoContext(ctx, "no span")
	assert.NotContains(t, attrs, "trace_id")

	spanCtx, span := Tracer().Start(ctx, "queryvm.test.Log")
	defer span.End()
	logger.InfoContext(spanCtx, "with span", "db", "shop")
	assert.Equal(t, span.SpanContext().TraceID().String(), attrs["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), attrs["span_id"])
	assert.Equal(t, "shop", attrs["db"])
}

// testHandler records every record through onHandle.
type testHandler struct {
	onHandle func(context.Context, slog.Record) error
}

func (h *testHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *testHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.onHandle(ctx, r)
}

func (h *testHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *testHandler) WithGroup(string) slog.Handler { return h }
