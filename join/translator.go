package join

import (
	"errors"
	"fmt"

	"github.com/danthegoodman1/icescan/predicate"
	"github.com/danthegoodman1/icescan/table"
)

var (
	ErrUnsupportedJoinCondition = errors.New("unsupported join condition")
	// ErrNullOuterValue means the outer row can match no inner row
	ErrNullOuterValue = errors.New("outer join value is null")

	comparisonOps = map[Kind]predicate.Op{
		Equals:             predicate.Equal,
		GreaterThan:        predicate.Greater,
		GreaterThanOrEqual: predicate.GreaterEqual,
		LessThan:           predicate.Less,
		LessThanOrEqual:    predicate.LessEqual,
	}
)

type (
	// Context is fixed for one join operator.
	Context struct {
		LeftWidth       int
		RightProjection *Projection
		RightSchema     table.Schema
	}

	// TranslationPredicate is a predicate on the inner table column
	// RightIndex whose value comes from the outer row at LeftIndex.
	TranslationPredicate struct {
		LeftIndex  int
		RightIndex int
		Op         predicate.Op
	}
)

// Translate turns a join condition into inner table predicates, in left to
// right AND order.
func Translate(jc Context, cond Expr) ([]TranslationPredicate, error) {
	call, ok := cond.(Call)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedJoinCondition, cond)
	}
	if call.Kind == And {
		var out []TranslationPredicate
		for _, operand := range call.Operands {
			preds, err := Translate(jc, operand)
			if err != nil {
				return nil, err
			}
			if len(out) == 0 {
				out = preds
				continue
			}
			out = append(out, preds...)
		}
		return out, nil
	}
	op, ok := comparisonOps[call.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: operator %s", ErrUnsupportedJoinCondition, call.Kind)
	}
	pred, err := jc.translateComparison(op, call)
	if err != nil {
		return nil, err
	}
	return []TranslationPredicate{pred}, nil
}

func (jc Context) translateComparison(op predicate.Op, call Call) (TranslationPredicate, error) {
	if len(call.Operands) != 2 {
		return TranslationPredicate{}, fmt.Errorf("%w: %s takes 2 operands, got %d", ErrUnsupportedJoinCondition, call.Kind, len(call.Operands))
	}
	left, lok := call.Operands[0].(ColumnRef)
	right, rok := call.Operands[1].(ColumnRef)
	if !lok || !rok {
		return TranslationPredicate{}, fmt.Errorf("%w: %s does not compare two columns", ErrUnsupportedJoinCondition, call)
	}
	leftOuter, rightOuter := jc.isOuter(left), jc.isOuter(right)
	if leftOuter == rightOuter {
		return TranslationPredicate{}, fmt.Errorf("%w: %s does not compare an outer and an inner column", ErrUnsupportedJoinCondition, call)
	}

	outer, inner := left, right
	if rightOuter {
		outer, inner = right, left
	} else {
		// outer OP inner reads as inner Mirror(OP) outer
		op = op.Mirror()
	}
	if outer.Index < 0 {
		return TranslationPredicate{}, fmt.Errorf("%w: negative column index %d", ErrUnsupportedJoinCondition, outer.Index)
	}

	rightIndex := jc.innerColumn(inner.Index - jc.LeftWidth)
	if rightIndex < 0 || rightIndex >= jc.RightSchema.Len() {
		return TranslationPredicate{}, fmt.Errorf("%w: inner column %d out of range", ErrUnsupportedJoinCondition, rightIndex)
	}
	return TranslationPredicate{
		LeftIndex:  outer.Index,
		RightIndex: rightIndex,
		Op:         op,
	}, nil
}

func (jc Context) isOuter(ref ColumnRef) bool {
	return ref.Index < jc.LeftWidth
}

// innerColumn maps a position of the inner input through its projection.
// Computed projection outputs keep the naive position.
func (jc Context) innerColumn(naive int) int {
	if jc.RightProjection == nil || naive < 0 || naive >= len(jc.RightProjection.Exprs) {
		return naive
	}
	if ref, ok := jc.RightProjection.Exprs[naive].(ColumnRef); ok {
		return ref.Index
	}
	return naive
}

// Materialize substitutes the outer row's value, coerced to the inner
// column's type.
func (tp TranslationPredicate) Materialize(outer table.Row, schema table.Schema) (predicate.ColumnPredicate, error) {
	if tp.LeftIndex >= len(outer) {
		return predicate.ColumnPredicate{}, fmt.Errorf("outer row has %d values, need index %d", len(outer), tp.LeftIndex)
	}
	if outer[tp.LeftIndex] == nil {
		return predicate.ColumnPredicate{}, ErrNullOuterValue
	}
	col := schema.Columns[tp.RightIndex]
	v, err := table.Coerce(outer[tp.LeftIndex], col.Type)
	if err != nil {
		return predicate.ColumnPredicate{}, fmt.Errorf("error coercing outer value for %s: %w", col.Name, err)
	}
	return predicate.New(tp.RightIndex, tp.Op, v), nil
}

// Materialize builds the inner scan predicates for one outer row.
func Materialize(preds []TranslationPredicate, outer table.Row, schema table.Schema) (predicate.Conjunction, error) {
	out := make(predicate.Conjunction, 0, len(preds))
	for _, tp := range preds {
		p, err := tp.Materialize(outer, schema)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
