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
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/queryvm/queryvm/go/common/mterrors"
	"github.com/queryvm/queryvm/go/common/sqltypes"
	"github.com/queryvm/queryvm/go/services/queryvm/compiler"
	"github.com/queryvm/queryvm/go/tools/telemetry"
)

// ExplainOutput describes how a query compiles.
type ExplainOutput struct {
	InputSchema  sqltypes.Schema
	OutputSchema sqltypes.Schema
	LogicalPlan  string
	PhysicalPlan string
	IR           string
}

// String renders the explanation for humans.
func (o *ExplainOutput) String() string {
	var b strings.Builder
	b.WriteString("input schema: ")
	b.WriteString(o.InputSchema.String())
	b.WriteString("\noutput schema: ")
	b.WriteString(o.OutputSchema.String())
	b.WriteString("\n\nlogical plan:\n")
	b.WriteString(o.LogicalPlan)
	b.WriteString("\nphysical plan:\n")
	b.WriteString(o.PhysicalPlan)
	if o.IR != "" {
		b.WriteString("\ngenerated code:\n")
		b.WriteString(o.IR)
	}
	return b.String()
}

// Explain compiles sql for inspection and fills out. It never reads or
// writes the cache and never builds a runner. Compile errors are returned
// as the compiler reported them.
func (e *Engine) Explain(ctx context.Context, sql, db string, isBatch bool, out *ExplainOutput) error {
	if out == nil {
		return mterrors.QV30001("nil explain output")
	}
	ctx, span := telemetry.Tracer().Start(ctx, "queryvm.engine.Explain", trace.WithAttributes(
		attribute.String("db", db),
		attribute.Bool("batch", isBatch),
	))
	defer span.End()

	c := e.factory(e.holder.Load(), compiler.Options{KeepIR: true, PlanOnly: true})
	sc := &compiler.SQLContext{SQL: sql, DB: db, IsBatchMode: isBatch}
	if err := c.Compile(ctx, sc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	*out = ExplainOutput{
		InputSchema:  sc.RequestSchema,
		OutputSchema: sc.Schema,
		LogicalPlan:  sc.LogicalPlanText,
		PhysicalPlan: sc.PhysicalPlanText,
		IR:           sc.IR,
	}
	return nil
}
