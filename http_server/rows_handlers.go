package http_server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/danthegoodman1/gojsonutils"
	"github.com/danthegoodman1/icescan/predicate"
	"github.com/danthegoodman1/icescan/query"
	"github.com/danthegoodman1/icescan/table"
	"github.com/rs/zerolog"
)

type (
	InsertReqBody struct {
		// Rows are JSON objects; nested objects are flattened to dotted
		// column names
		Rows []map[string]any `validate:"required,min=1"`
	}

	PredicateBody struct {
		Column string `validate:"required"`
		Op     string `validate:"required"`
		Value  any
	}

	ScanReqBody struct {
		// Predicates is ORed over ANDed groups; empty scans everything
		Predicates [][]PredicateBody `validate:"dive,dive"`
		Columns    []string
		Limit      *int64
		Offset     *int64
		Sort       bool
	}

	ScanResponse struct {
		Columns  []string
		Rows     []table.Row
		Sessions []string
		Sort     bool
	}
)

var (
	ErrNotFlatMap = errors.New("not a flat map")
)

func (s *HTTPServer) InsertRows(c *CustomContext) error {
	ctx := c.Request().Context()
	logger := zerolog.Ctx(ctx)
	var reqBody InsertReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	name := c.Param("table")
	tbl, err := s.Engine.MetaStore.GetTable(ctx, name)
	if err != nil {
		return c.Fail(err, "error getting table")
	}

	rows := make([]table.Row, 0, len(reqBody.Rows))
	for i, raw := range reqBody.Rows {
		flat, err := gojsonutils.Flatten(raw, nil)
		if err != nil {
			return c.InternalError(err, "error flattening JSON map")
		}
		flatMap, ok := flat.(map[string]any)
		if !ok {
			return c.InternalError(ErrNotFlatMap, fmt.Sprintf("got a non flat map: %+v", flat))
		}
		row, err := rowFromMap(tbl.Schema, flatMap)
		if err != nil {
			return c.Fail(fmt.Errorf("row %d: %w", i, err), "error converting row")
		}
		rows = append(rows, row)
	}

	if err = s.Engine.DataStore.Upsert(ctx, name, rows); err != nil {
		return c.Fail(err, "error upserting rows")
	}
	logger.Debug().Str("table", name).Int("rows", len(rows)).Msg("upserted rows")
	return c.JSON(http.StatusOK, map[string]int{"NumRows": len(rows)})
}

func (s *HTTPServer) ScanTable(c *CustomContext) error {
	ctx := c.Request().Context()
	var reqBody ScanReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	name := c.Param("table")
	tbl, err := s.Engine.MetaStore.GetTable(ctx, name)
	if err != nil {
		return c.Fail(err, "error getting table")
	}

	req := query.ScanRequest{
		Table:  name,
		Limit:  reqBody.Limit,
		Offset: reqBody.Offset,
		Sort:   reqBody.Sort,
	}
	if len(reqBody.Predicates) == 0 {
		req.Predicates = predicate.All()
	}
	for _, group := range reqBody.Predicates {
		conj := make(predicate.Conjunction, 0, len(group))
		for _, pb := range group {
			p, err := pb.toPredicate(tbl.Schema)
			if err != nil {
				return c.Fail(err, "error converting predicate")
			}
			conj = append(conj, p)
		}
		req.Predicates = append(req.Predicates, conj)
	}
	columns := reqBody.Columns
	if len(columns) == 0 {
		columns = tbl.Schema.Names()
	}
	for _, col := range columns {
		idx := tbl.Schema.ColumnIndex(col)
		if idx == -1 {
			return c.Fail(fmt.Errorf("%w: %s", table.ErrColumnNotFound, col), "")
		}
		req.Projection = append(req.Projection, idx)
	}

	res, err := s.Engine.Scan(ctx, req)
	if err != nil {
		return c.Fail(err, "error starting scan")
	}
	sessions := make([]string, 0, len(res.Sessions()))
	for _, sc := range res.Sessions() {
		sessions = append(sessions, sc.ID())
	}
	rows, err := res.Collect()
	if err != nil {
		return c.Fail(err, "error scanning table")
	}
	return c.JSON(http.StatusOK, ScanResponse{
		Columns:  columns,
		Rows:     rows,
		Sessions: sessions,
		Sort:     res.Plan.Sort,
	})
}

func rowFromMap(schema table.Schema, m map[string]any) (table.Row, error) {
	row := make(table.Row, schema.Len())
	for i, col := range schema.Columns {
		v, err := table.Coerce(m[col.Name], col.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		row[i] = v
	}
	return row, nil
}

func (pb PredicateBody) toPredicate(schema table.Schema) (predicate.ColumnPredicate, error) {
	idx := schema.ColumnIndex(pb.Column)
	if idx == -1 {
		return predicate.ColumnPredicate{}, fmt.Errorf("%w: %s", table.ErrColumnNotFound, pb.Column)
	}
	op, err := predicate.ParseOp(pb.Op)
	if err != nil {
		return predicate.ColumnPredicate{}, err
	}
	if pb.Value == nil {
		return predicate.ColumnPredicate{}, fmt.Errorf("%w: predicate on %s without a value", predicate.ErrInvalidPredicate, pb.Column)
	}
	v, err := table.Coerce(pb.Value, schema.Columns[idx].Type)
	if err != nil {
		return predicate.ColumnPredicate{}, fmt.Errorf("predicate on %s: %w", pb.Column, err)
	}
	return predicate.New(idx, op, v), nil
}
