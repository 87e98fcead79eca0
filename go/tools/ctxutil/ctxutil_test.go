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

package ctxutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/baggage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDetachIgnoresCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := Detach(parent)
	cancel()

	require.Error(t, parent.Err())
	assert.NoError(t, ctx.Err())
	_, ok := ctx.Deadline()
	assert.False(t, ok)
}

func TestDetachKeepsBaggage(t *testing.T) {
	m, err := baggage.NewMember("db", "shop")
	require.NoError(t, err)
	bag, err := baggage.New(m)
	require.NoError(t, err)

	ctx := Detach(baggage.ContextWithBaggage(context.Background(), bag))
	assert.Equal(t, "shop", baggage.FromContext(ctx).Member("db").Value())

	assert.Equal(t, 0, baggage.FromContext(Detach(context.Background())).Len())
}

func TestStartLinkedSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tracer := tp.Tracer("test")

	parent, span := tracer.Start(context.Background(), "get")
	ctx := Detach(parent)
	origin, ok := Origin(ctx)
	require.True(t, ok)
	assert.Equal(t, span.SpanContext(), origin)

	_, child := StartLinkedSpan(ctx, tracer, "compile")
	child.End()
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 2)
	compile := ended[0]
	assert.Equal(t, "compile", compile.Name())
	assert.False(t, compile.Parent().IsValid())
	assert.NotEqual(t, span.SpanContext().TraceID(), compile.SpanContext().TraceID())
	require.Len(t, compile.Links(), 1)
	assert.Equal(t, span.SpanContext(), compile.Links()[0].SpanContext)
}

func TestStartLinkedSpanWithoutOrigin(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, ok := Origin(context.Background())
	assert.False(t, ok)

	_, span := StartLinkedSpan(Detach(context.Background()), tp.Tracer("test"), "compile")
	span.End()
	require.Len(t, rec.Ended(), 1)
	assert.Empty(t, rec.Ended()[0].Links())
}
