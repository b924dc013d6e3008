// Package predicate models the filters pushed into storage scans: single
// column-to-literal comparisons, ANDed into conjunctions, ORed into a set.
package predicate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danthegoodman1/icescan/table"
)

type Op int

const (
	Equal Op = iota + 1
	Greater
	GreaterEqual
	Less
	LessEqual
)

var (
	ErrInvalidPredicate = errors.New("invalid predicate")
)

var opNames = map[Op]string{
	Equal:        "EQUAL",
	Greater:      "GREATER",
	GreaterEqual: "GREATER_EQUAL",
	Less:         "LESS",
	LessEqual:    "LESS_EQUAL",
}

var opSymbols = map[string]Op{
	"=":  Equal,
	"==": Equal,
	">":  Greater,
	">=": GreaterEqual,
	"<":  Less,
	"<=": LessEqual,
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

func (o Op) Valid() bool {
	_, ok := opNames[o]
	return ok
}

// Mirror returns the operator that holds when the operands are swapped.
func (o Op) Mirror() Op {
	switch o {
	case Greater:
		return Less
	case GreaterEqual:
		return LessEqual
	case Less:
		return Greater
	case LessEqual:
		return GreaterEqual
	}
	return o
}

// ParseOp accepts both operator names (GREATER_EQUAL) and symbols (>=).
func ParseOp(s string) (Op, error) {
	if o, ok := opSymbols[s]; ok {
		return o, nil
	}
	upper := strings.ToUpper(s)
	for o, n := range opNames {
		if n == upper {
			return o, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown operator %q", ErrInvalidPredicate, s)
}

func (o Op) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Op) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseOp(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Matches reports whether a value compared against the predicate's literal
// satisfies the operator.
func (o Op) Matches(cmp int) bool {
	switch o {
	case Equal:
		return cmp == 0
	case Greater:
		return cmp > 0
	case GreaterEqual:
		return cmp >= 0
	case Less:
		return cmp < 0
	case LessEqual:
		return cmp <= 0
	}
	return false
}

type (
	// ColumnPredicate compares the column at Column against Value.
	ColumnPredicate struct {
		Column int
		Op     Op
		Value  any
	}

	// Conjunction is ANDed.
	Conjunction []ColumnPredicate

	// Set is ORed: a disjunctive normal form over conjunctions.
	Set []Conjunction
)

func New(column int, op Op, value any) ColumnPredicate {
	return ColumnPredicate{Column: column, Op: op, Value: value}
}

// All matches every row: a single empty conjunction.
func All() Set {
	return Set{Conjunction{}}
}

func (p ColumnPredicate) String() string {
	return fmt.Sprintf("col[%d] %s %v", p.Column, p.Op, p.Value)
}

// Eval reports whether row satisfies the predicate. A nil column value
// never matches.
func (p ColumnPredicate) Eval(row table.Row) bool {
	v := row[p.Column]
	if v == nil {
		return false
	}
	return p.Op.Matches(table.Compare(v, p.Value))
}

func (c Conjunction) Eval(row table.Row) bool {
	for _, p := range c {
		if !p.Eval(row) {
			return false
		}
	}
	return true
}

func (s Set) Eval(row table.Row) bool {
	for _, c := range s {
		if c.Eval(row) {
			return true
		}
	}
	return false
}

// Validate checks column indexes and that each literal has the Go type backing
// its column.
func (p ColumnPredicate) Validate(schema table.Schema) error {
	if !p.Op.Valid() {
		return fmt.Errorf("%w: invalid operator %d", ErrInvalidPredicate, p.Op)
	}
	if p.Column < 0 || p.Column >= schema.Len() {
		return fmt.Errorf("%w: column index %d out of range", ErrInvalidPredicate, p.Column)
	}
	col := schema.Columns[p.Column]
	if p.Value == nil {
		return fmt.Errorf("%w: nil literal for column %s", ErrInvalidPredicate, col.Name)
	}
	if !col.Type.Accepts(p.Value) {
		return fmt.Errorf("%w: column %s is %s, got %T", ErrInvalidPredicate, col.Name, col.Type, p.Value)
	}
	return nil
}

func (c Conjunction) Validate(schema table.Schema) error {
	for _, p := range c {
		if err := p.Validate(schema); err != nil {
			return err
		}
	}
	return nil
}

func (s Set) Validate(schema table.Schema) error {
	for i, c := range s {
		if err := c.Validate(schema); err != nil {
			return fmt.Errorf("disjunct %d: %w", i, err)
		}
	}
	return nil
}
