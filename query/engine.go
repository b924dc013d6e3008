package query

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danthegoodman1/icescan/datastore"
	"github.com/danthegoodman1/icescan/gologger"
	"github.com/danthegoodman1/icescan/join"
	"github.com/danthegoodman1/icescan/merge"
	"github.com/danthegoodman1/icescan/metastore"
	"github.com/danthegoodman1/icescan/predicate"
	"github.com/danthegoodman1/icescan/scan"
	"github.com/danthegoodman1/icescan/table"
	"github.com/danthegoodman1/icescan/utils"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

var (
	logger = gologger.NewLogger()
)

type (
	// Engine is the entry point for reads: predicate scans and index
	// nested-loop joins against a storage engine.
	Engine struct {
		DataStore  datastore.DataStore
		MetaStore  metastore.MetaStore
		BufferSize int

		// joinPool runs the inner lookups of LookupJoin
		joinPool *ants.Pool
	}

	ScanRequest struct {
		Table      string
		Predicates predicate.Set

		// Projection lists schema positions to return; nil means every column
		Projection []int
		Limit      *int64
		Offset     *int64
		Sort       bool
	}

	Result struct {
		Rows  *merge.Iterator
		Plan  scan.Plan
		Table datastore.Table
	}

	JoinRequest struct {
		// Outer rows are the already materialized left input
		Outer      []table.Row
		OuterWidth int

		Inner           string
		Condition       join.Expr
		RightProjection *join.Projection

		// InnerColumns are the inner table columns appended to each outer
		// row; nil means every column
		InnerColumns []int
	}
)

func NewEngine(ds datastore.DataStore, ms metastore.MetaStore, joinConcurrency, bufferSize int) (*Engine, error) {
	if joinConcurrency < 1 {
		joinConcurrency = 1
	}
	pool, err := ants.NewPool(joinConcurrency)
	if err != nil {
		return nil, fmt.Errorf("error in ants.NewPool: %w", err)
	}
	return &Engine{
		DataStore:  ds,
		MetaStore:  ms,
		BufferSize: bufferSize,
		joinPool:   pool,
	}, nil
}

// Release stops the join worker pool.
func (e *Engine) Release() {
	e.joinPool.Release()
}

// Scan compiles the request against the table and starts the merge. The
// caller must drain or Close Result.Rows.
func (e *Engine) Scan(ctx context.Context, req ScanRequest) (*Result, error) {
	tbl, err := e.MetaStore.GetTable(ctx, req.Table)
	if err != nil {
		return nil, fmt.Errorf("error getting table %s: %w", req.Table, err)
	}
	return e.scanTable(ctx, tbl, req)
}

func (e *Engine) scanTable(ctx context.Context, tbl datastore.Table, req ScanRequest) (*Result, error) {
	projection := req.Projection
	if projection == nil {
		projection = allColumns(tbl.Schema)
	}
	plan, err := scan.Compile(tbl.Schema, scan.Request{
		Predicates: req.Predicates,
		Projection: projection,
		Limit:      req.Limit,
		Offset:     req.Offset,
		Sort:       req.Sort,
	})
	if err != nil {
		return nil, fmt.Errorf("error in scan.Compile: %w", err)
	}

	ctx = gologger.WithScanID(ctx, utils.GenKSortedID("scan_"))
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("table", tbl.Name).Int("sessions", len(plan.Sessions)).Bool("sort", plan.Sort).Msg("compiled scan")

	open := func(ctx context.Context, s scan.Session) (datastore.Scanner, error) {
		return e.DataStore.OpenScan(ctx, tbl, s.Spec())
	}
	it, err := merge.Execute(ctx, open, plan, merge.WithBufferSize(e.BufferSize), merge.WithLogger(*logger))
	if err != nil {
		return nil, fmt.Errorf("error in merge.Execute: %w", err)
	}
	return &Result{Rows: it, Plan: plan, Table: tbl}, nil
}

// Sessions returns the storage scanners opened for the result, in session
// order.
func (r *Result) Sessions() []datastore.Scanner {
	return r.Rows.Scanners()
}

func (r *Result) Close() error {
	return r.Rows.Close()
}

// Collect drains the result.
func (r *Result) Collect() ([]table.Row, error) {
	defer r.Rows.Close()
	rows := make([]table.Row, 0)
	for r.Rows.Next() {
		rows = append(rows, r.Rows.Row())
	}
	if err := r.Rows.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// LookupJoin runs an index nested-loop join: the condition is translated
// once, then the inner table is scanned once per outer row with that row's
// values substituted. Output rows are the outer row followed by the inner
// columns, in outer row order.
func (e *Engine) LookupJoin(ctx context.Context, req JoinRequest) ([]table.Row, error) {
	logger := zerolog.Ctx(ctx)
	tbl, err := e.MetaStore.GetTable(ctx, req.Inner)
	if err != nil {
		return nil, fmt.Errorf("error getting table %s: %w", req.Inner, err)
	}
	preds, err := join.Translate(join.Context{
		LeftWidth:       req.OuterWidth,
		RightProjection: req.RightProjection,
		RightSchema:     tbl.Schema,
	}, req.Condition)
	if err != nil {
		return nil, err
	}
	innerColumns := req.InnerColumns
	if innerColumns == nil {
		innerColumns = allColumns(tbl.Schema)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	matched := make([][]table.Row, len(req.Outer))
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}
	for i, outer := range req.Outer {
		i, outer := i, outer
		wg.Add(1)
		err := e.joinPool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			rows, err := e.lookup(ctx, tbl, preds, outer, innerColumns)
			if err != nil {
				fail(fmt.Errorf("error in lookup for outer row %d: %w", i, err))
				return
			}
			matched[i] = rows
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("error in joinPool.Submit: %w", err))
			break
		}
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	out := make([]table.Row, 0, len(req.Outer))
	for _, rows := range matched {
		out = append(out, rows...)
	}
	logger.Debug().Str("inner", req.Inner).Int("outer", len(req.Outer)).Int("rows", len(out)).Msg("lookup join done")
	return out, nil
}

func (e *Engine) lookup(ctx context.Context, tbl datastore.Table, preds []join.TranslationPredicate, outer table.Row, innerColumns []int) ([]table.Row, error) {
	conj, err := join.Materialize(preds, outer, tbl.Schema)
	if errors.Is(err, join.ErrNullOuterValue) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	res, err := e.scanTable(ctx, tbl, ScanRequest{
		Predicates: predicate.Set{conj},
		Projection: innerColumns,
	})
	if err != nil {
		return nil, err
	}
	inner, err := res.Collect()
	if err != nil {
		return nil, err
	}
	joined := make([]table.Row, len(inner))
	for i, row := range inner {
		r := make(table.Row, 0, len(outer)+len(row))
		r = append(r, outer...)
		joined[i] = append(r, row...)
	}
	return joined, nil
}

func allColumns(schema table.Schema) []int {
	cols := make([]int, schema.Len())
	for i := range cols {
		cols[i] = i
	}
	return cols
}
