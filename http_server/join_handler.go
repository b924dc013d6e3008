package http_server

import (
	"fmt"
	"net/http"

	"github.com/danthegoodman1/icescan/join"
	"github.com/danthegoodman1/icescan/query"
	"github.com/danthegoodman1/icescan/table"
)

type (
	// ExprBody is a join condition node: a column reference, a literal, or
	// an operator call over Args.
	ExprBody struct {
		Ref     *int
		Literal any
		Op      string
		Args    []ExprBody
	}

	JoinReqBody struct {
		Outer      [][]any `validate:"required"`
		OuterWidth int     `validate:"required,min=1"`
		Inner      string  `validate:"required"`
		Condition  ExprBody
		// RightProjection is the projection over the inner table, if any
		RightProjection []ExprBody
		InnerColumns    []string
	}

	JoinResponse struct {
		Rows []table.Row
	}
)

func (s *HTTPServer) LookupJoin(c *CustomContext) error {
	ctx := c.Request().Context()
	var reqBody JoinReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	cond, err := reqBody.Condition.toExpr()
	if err != nil {
		return c.Fail(err, "")
	}
	req := query.JoinRequest{
		OuterWidth: reqBody.OuterWidth,
		Inner:      reqBody.Inner,
		Condition:  cond,
	}
	for i, raw := range reqBody.Outer {
		if len(raw) != reqBody.OuterWidth {
			return c.Fail(fmt.Errorf("%w: outer row %d has %d values, expected %d", ErrBadRequest, i, len(raw), reqBody.OuterWidth), "")
		}
		req.Outer = append(req.Outer, table.Row(raw))
	}
	if reqBody.RightProjection != nil {
		req.RightProjection = &join.Projection{}
		for _, eb := range reqBody.RightProjection {
			e, err := eb.toExpr()
			if err != nil {
				return c.Fail(err, "")
			}
			req.RightProjection.Exprs = append(req.RightProjection.Exprs, e)
		}
	}
	if len(reqBody.InnerColumns) > 0 {
		tbl, err := s.Engine.MetaStore.GetTable(ctx, reqBody.Inner)
		if err != nil {
			return c.Fail(err, "error getting inner table")
		}
		for _, name := range reqBody.InnerColumns {
			idx := tbl.Schema.ColumnIndex(name)
			if idx == -1 {
				return c.Fail(fmt.Errorf("%w: %s", table.ErrColumnNotFound, name), "")
			}
			req.InnerColumns = append(req.InnerColumns, idx)
		}
	}

	rows, err := s.Engine.LookupJoin(ctx, req)
	if err != nil {
		return c.Fail(err, "error running lookup join")
	}
	return c.JSON(http.StatusOK, JoinResponse{Rows: rows})
}

func (eb ExprBody) toExpr() (join.Expr, error) {
	switch {
	case eb.Ref != nil:
		return join.Ref(*eb.Ref), nil
	case eb.Op != "":
		kind, err := join.ParseKind(eb.Op)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", join.ErrUnsupportedJoinCondition, err)
		}
		call := join.Call{Kind: kind}
		for _, arg := range eb.Args {
			e, err := arg.toExpr()
			if err != nil {
				return nil, err
			}
			call.Operands = append(call.Operands, e)
		}
		return call, nil
	case eb.Literal != nil:
		return join.Literal{Value: eb.Literal}, nil
	}
	return nil, fmt.Errorf("%w: empty expression", ErrBadRequest)
}
