package join

import (
	"fmt"
	"strings"
)

// Kind is the operator of a Call node.
type Kind int

const (
	Equals Kind = iota + 1
	NotEquals
	GreaterThan
	GreaterThanOrEqual
	LessThan
	LessThanOrEqual
	And
	Or
	Not
)

var kindNames = map[Kind]string{
	Equals:             "=",
	NotEquals:          "<>",
	GreaterThan:        ">",
	GreaterThanOrEqual: ">=",
	LessThan:           "<",
	LessThanOrEqual:    "<=",
	And:                "AND",
	Or:                 "OR",
	Not:                "NOT",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind accepts the symbolic form ("=", "<=") or the keyword ("AND").
func ParseKind(s string) (Kind, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "!=" {
		return NotEquals, nil
	}
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown join operator %q", s)
}

type (
	// Expr is a node of a join condition tree: ColumnRef, Literal or Call.
	Expr interface {
		isExpr()
		String() string
	}

	// ColumnRef indexes the joined row: positions below the left width belong
	// to the outer input, the rest to the inner input.
	ColumnRef struct {
		Index int
	}

	Literal struct {
		Value any
	}

	Call struct {
		Kind     Kind
		Operands []Expr
	}

	// Projection is the operator sitting on the inner input, if any. Exprs
	// are in output order.
	Projection struct {
		Exprs []Expr
	}
)

func (ColumnRef) isExpr() {}
func (Literal) isExpr()   {}
func (Call) isExpr()      {}

func (c ColumnRef) String() string {
	return fmt.Sprintf("$%d", c.Index)
}

func (l Literal) String() string {
	return fmt.Sprintf("%v", l.Value)
}

func (c Call) String() string {
	parts := make([]string, len(c.Operands))
	for i, o := range c.Operands {
		parts[i] = o.String()
	}
	if len(parts) == 1 {
		return fmt.Sprintf("%s(%s)", c.Kind, parts[0])
	}
	return "(" + strings.Join(parts, " "+c.Kind.String()+" ") + ")"
}

func Ref(i int) ColumnRef {
	return ColumnRef{Index: i}
}

func Compare(kind Kind, left, right Expr) Call {
	return Call{Kind: kind, Operands: []Expr{left, right}}
}

func AndOf(operands ...Expr) Call {
	return Call{Kind: And, Operands: operands}
}
