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

// Package ctxutil derives contexts for work that must outlive the caller
// that started it.
package ctxutil

import (
	"context"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/trace"
)

type originKey struct{}

// Detach returns a context that is never cancelled by parent. Baggage is
// carried over and the parent's span is remembered so that StartLinkedSpan
// can point back at it.
//
// The engine uses it for a compilation shared by several callers: the first
// caller going away must not fail the others.
func Detach(parent context.Context) context.Context {
	//nolint:gocritic // entry point for detached work
	ctx := context.Background()
	if bag := baggage.FromContext(parent); bag.Len() > 0 {
		ctx = baggage.ContextWithBaggage(ctx, bag)
	}
	if sc := trace.SpanContextFromContext(parent); sc.IsValid() {
		ctx = context.WithValue(ctx, originKey{}, sc)
	}
	return ctx
}

// Origin returns the span context that was current when ctx was detached.
func Origin(ctx context.Context) (trace.SpanContext, bool) {
	sc, ok := ctx.Value(originKey{}).(trace.SpanContext)
	return sc, ok
}

// StartLinkedSpan starts a root span on ctx, linked to Origin(ctx) when
// there is one.
func StartLinkedSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	all := []trace.SpanStartOption{trace.WithNewRoot()}
	if sc, ok := Origin(ctx); ok {
		all = append(all, trace.WithLinks(trace.Link{SpanContext: sc}))
	}
	return tracer.Start(ctx, name, append(all, opts...)...)
}
