package scan

import (
	"errors"
	"fmt"

	"github.com/danthegoodman1/icescan/datastore"
	"github.com/danthegoodman1/icescan/predicate"
	"github.com/danthegoodman1/icescan/table"
	"github.com/danthegoodman1/icescan/utils"
)

// Unbounded is the row limit of a session without a pushed limit.
const Unbounded = datastore.Unbounded

var (
	ErrInvalidRequest = errors.New("invalid scan request")
)

type (
	// Request is what the planner hands over for one table scan. A nil
	// Limit or Offset is unset; an Offset of 0 is still set.
	Request struct {
		Predicates predicate.Set
		Projection []int
		Limit      *int64
		Offset     *int64
		Sort       bool
	}

	// Session is one storage scan, covering one disjunct of the predicates.
	Session struct {
		ID         string
		Predicates predicate.Conjunction
		Projection []int

		// ScanColumns is Projection followed by key columns the merge needs
		// but the projection does not carry
		ScanColumns []int
		RowLimit    int64
	}

	Plan struct {
		Sessions []Session

		// Sort is true when output must follow primary key order
		Sort   bool
		Limit  int64
		Offset int64

		// SortKey holds the ScanColumns positions of the key columns, in key
		// order. Empty when neither ordering nor de-duplication is needed.
		SortKey     []int
		OutputWidth int
	}
)

// Compile turns a scan request into one session per disjunct. A limit is
// only pushed into the sessions when the output is sorted and there is no
// offset: each session then needs at most limit rows for the merged result.
func Compile(schema table.Schema, req Request) (Plan, error) {
	var plan Plan
	for _, c := range req.Projection {
		if c < 0 || c >= schema.Len() {
			return plan, fmt.Errorf("%w: projected column %d out of range", ErrInvalidRequest, c)
		}
	}
	if req.Limit != nil && *req.Limit < 0 {
		return plan, fmt.Errorf("%w: negative limit %d", ErrInvalidRequest, *req.Limit)
	}
	if req.Offset != nil && *req.Offset < 0 {
		return plan, fmt.Errorf("%w: negative offset %d", ErrInvalidRequest, *req.Offset)
	}

	// offsets only make sense over a deterministic order
	plan.Sort = req.Sort || req.Offset != nil
	plan.Limit = utils.Deref(req.Limit, Unbounded)
	plan.Offset = utils.Deref(req.Offset, 0)
	plan.OutputWidth = len(req.Projection)

	rowLimit := Unbounded
	if plan.Sort && req.Offset == nil && req.Limit != nil {
		rowLimit = *req.Limit
	}

	scanColumns := append([]int(nil), req.Projection...)
	if plan.Sort || len(req.Predicates) > 1 {
		for _, k := range schema.KeyIndexes() {
			pos := utils.IndexOf(req.Projection, k)
			if pos == -1 {
				scanColumns = append(scanColumns, k)
				pos = len(scanColumns) - 1
			}
			plan.SortKey = append(plan.SortKey, pos)
		}
	}

	plan.Sessions = make([]Session, len(req.Predicates))
	for i, conj := range req.Predicates {
		plan.Sessions[i] = Session{
			ID:          utils.GenKSortedID("scn_"),
			Predicates:  append(predicate.Conjunction(nil), conj...),
			Projection:  append([]int(nil), req.Projection...),
			ScanColumns: append([]int(nil), scanColumns...),
			RowLimit:    rowLimit,
		}
	}
	return plan, nil
}

// Spec is the storage scan for the session.
func (s Session) Spec() datastore.ScanSpec {
	return datastore.ScanSpec{
		ID:         s.ID,
		Predicates: s.Predicates,
		Columns:    s.ScanColumns,
		Limit:      s.RowLimit,
	}
}

// Hidden is the number of trailing scan columns stripped from output rows.
func (p Plan) Hidden() int {
	if len(p.Sessions) == 0 {
		return 0
	}
	return len(p.Sessions[0].ScanColumns) - p.OutputWidth
}
