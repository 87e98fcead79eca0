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
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/queryvm/queryvm/go/common/mterrors"
	"github.com/queryvm/queryvm/go/common/sqltypes"
	"github.com/queryvm/queryvm/go/services/queryvm/handler"
	"github.com/queryvm/queryvm/go/services/queryvm/runner"
	"github.com/queryvm/queryvm/go/tools/telemetry"
)

// RunSession is the caller's handle on a compiled query. Engine.Get binds
// an artifact to it; the concrete session type runs it. A session is not
// safe for concurrent use.
type RunSession interface {
	Mode() Mode
	SetCompileInfo(info *CompileInfo)
	CompileInfo() *CompileInfo
	SetDebug(debug bool)
	IsDebug() bool
}

type session struct {
	info   *CompileInfo
	debug  bool
	logger *slog.Logger
	trace  []string
}

func (s *session) SetCompileInfo(info *CompileInfo) { s.info = info }
func (s *session) CompileInfo() *CompileInfo { return s.info }
func (s *session) SetDebug(debug bool) { s.debug = debug }
func (s *session) IsDebug() bool { return s.debug }

// SetLogger sets the logger for run failures and debug traces.
func (s *session) SetLogger(logger *slog.Logger) { s.logger = logger }

// LastTrace returns the per-node trace of the latest debug run.
func (s *session) LastTrace() []string { return s.trace }

func (s *session) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

// run executes the bound runner tree and returns its non-nil output.
func (s *session) run(ctx context.Context, mode Mode, in *sqltypes.Row) (handler.Output, error) {
	info := s.info
	if info == nil {
		return nil, mterrors.QV20003(mode.String())
	}
	if info.runner == nil {
		return nil, mterrors.QV20005(mode.String(), info.sql)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "queryvm.session.Run", trace.WithAttributes(
		attribute.String("db", info.db),
		attribute.String("mode", mode.String()),
		attribute.Bool("debug", s.debug),
	))
	defer span.End()

	var rc *runner.Context
	if mode == ModeRequest {
		rc = runner.NewRequestContext(ctx, in, s.debug)
	} else {
		rc = runner.NewBatchContext(ctx, s.debug)
	}
	rc.WithLogger(s.log())

	out, err := info.runner.RunWithCache(rc)
	s.trace = rc.Trace()
	if err == nil && out == nil {
		err = mterrors.QV20001(mode.String())
	} else if err != nil {
		err = mterrors.QV20004(err, mode.String())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (s *session) partitionError(ctx context.Context, mode Mode) error {
	err := mterrors.QV20002(mode.String())
	s.log().ErrorContext(ctx, "partition output reached the session", "db", s.info.db, "sql", s.info.sql, "error", err)
	return err
}

// RequestRunSession runs a request-mode artifact on one input row.
type RequestRunSession struct {
	session
}

var _ RunSession = (*RequestRunSession)(nil)

func NewRequestRunSession() *RequestRunSession { return &RequestRunSession{} }

func (*RequestRunSession) Mode() Mode { return ModeRequest }

// Run runs the bound artifact on in. produced is false when the plan
// yields an empty table, which is not an error.
func (s *RequestRunSession) Run(ctx context.Context, in *sqltypes.Row) (out *sqltypes.Row, produced bool, err error) {
	o, err := s.run(ctx, ModeRequest, in)
	if err != nil {
		return nil, false, err
	}
	handler.Match(o,
		func(t handler.TableHandler) any {
			it := t.Iterator()
			it.SeekToFirst()
			if it.Valid() {
				out, produced = it.Value(), true
			}
			return nil
		},
		func(r handler.RowHandler) any {
			out, produced = r.Value(), true
			return nil
		},
		func(handler.PartitionHandler) any {
			err = s.partitionError(ctx, ModeRequest)
			return nil
		},
	)
	if err != nil {
		return nil, false, err
	}
	return out, produced, nil
}

// BatchRunSession runs a batch-mode artifact over the catalog tables.
type BatchRunSession struct {
	session
}

var _ RunSession = (*BatchRunSession)(nil)

func NewBatchRunSession() *BatchRunSession { return &BatchRunSession{} }

func (*BatchRunSession) Mode() Mode { return ModeBatch }

// Run returns the result as a table. A row result becomes a one-row table.
func (s *BatchRunSession) Run(ctx context.Context) (handler.TableHandler, error) {
	o, err := s.run(ctx, ModeBatch, nil)
	if err != nil {
		return nil, err
	}
	var t handler.TableHandler
	handler.Match(o,
		func(tbl handler.TableHandler) any {
			t = tbl
			return nil
		},
		func(r handler.RowHandler) any {
			t = handler.NewMemTableHandler(r.Schema(), r.Value())
			return nil
		},
		func(handler.PartitionHandler) any {
			err = s.partitionError(ctx, ModeBatch)
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// RunRows returns at most limit result rows. A limit <= 0 returns all rows.
func (s *BatchRunSession) RunRows(ctx context.Context, limit int) ([]*sqltypes.Row, error) {
	o, err := s.run(ctx, ModeBatch, nil)
	if err != nil {
		return nil, err
	}
	rows := []*sqltypes.Row{}
	handler.Match(o,
		func(t handler.TableHandler) any {
			it := t.Iterator()
			for it.SeekToFirst(); it.Valid(); it.Next() {
				if limit > 0 && len(rows) >= limit {
					break
				}
				rows = append(rows, it.Value())
			}
			return nil
		},
		func(r handler.RowHandler) any {
			rows = append(rows, r.Value())
			return nil
		},
		func(handler.PartitionHandler) any {
			err = s.partitionError(ctx, ModeBatch)
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
