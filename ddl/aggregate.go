package ddl

import (
	"fmt"
	"strings"

	"github.com/danthegoodman1/icescan/part"
	"github.com/danthegoodman1/icescan/table"
	"github.com/danthegoodman1/icescan/utils"
)

type (
	// SelectItem is one entry of an aggregate view's select list: AllColumns,
	// ColumnItem, AggregateCall, AliasedItem or LiteralItem.
	SelectItem interface {
		isSelectItem()
		String() string
	}

	// AllColumns is `*`.
	AllColumns struct{}

	ColumnItem struct {
		Name string
	}

	AggregateCall struct {
		Operator string
		Args     []SelectItem
	}

	AliasedItem struct {
		Item  SelectItem
		Alias string
	}

	LiteralItem struct {
		Value any
	}

	CreateAggregateView struct {
		Name        string
		Source      string
		GroupBy     []string
		Select      []SelectItem
		IfNotExists bool
	}

	// Aggregate returns the type of the column an aggregate over source
	// produces.
	Aggregate func(source table.Column) (table.ColumnType, error)
)

func (AllColumns) isSelectItem()    {}
func (ColumnItem) isSelectItem()    {}
func (AggregateCall) isSelectItem() {}
func (AliasedItem) isSelectItem()   {}
func (LiteralItem) isSelectItem()   {}

func (AllColumns) String() string {
	return "*"
}

func (c ColumnItem) String() string {
	return c.Name
}

func (a AggregateCall) String() string {
	args := make([]string, len(a.Args))
	for i, arg := range a.Args {
		args[i] = arg.String()
	}
	return fmt.Sprintf("%s(%s)", a.Operator, strings.Join(args, ", "))
}

func (a AliasedItem) String() string {
	return fmt.Sprintf("%s AS %s", a.Item, a.Alias)
}

func (l LiteralItem) String() string {
	return fmt.Sprintf("%v", l.Value)
}

// Aggregates are the operators an aggregate view may use, by upper case name.
var Aggregates = map[string]Aggregate{
	"SUM": func(source table.Column) (table.ColumnType, error) {
		switch source.Type {
		case table.TypeInt8, table.TypeInt16, table.TypeInt32, table.TypeInt64, table.TypeFloat, table.TypeDouble:
			return source.Type, nil
		}
		return table.TypeInvalid, fmt.Errorf("cannot SUM %s column %s", source.Type, source.Name)
	},
	"COUNT": func(table.Column) (table.ColumnType, error) {
		return table.TypeInt64, nil
	},
}

// AggregateColumnName names the view column holding op over column.
func AggregateColumnName(op, column string) string {
	return strings.ToUpper(op) + "_" + column
}

// BuildAggregateView derives the schema of a pre-aggregated view over source.
// The grouping columns become the key, in GROUP BY order.
func BuildAggregateView(source table.Schema, sourceOpts part.TableOptions, def CreateAggregateView) (table.Schema, part.TableOptions, error) {
	var schema table.Schema
	var opts part.TableOptions
	if def.Name == "" {
		return schema, opts, invalid("missing view name")
	}
	if len(def.GroupBy) == 0 {
		return schema, opts, invalid("columns should be present in the GROUP BY clause")
	}
	if len(def.Select) == 1 {
		if _, ok := def.Select[0].(AllColumns); ok {
			return schema, opts, invalid("select list should not be a copy of the source table")
		}
	}

	cols := make([]table.Column, 0, len(def.GroupBy)+len(def.Select))
	rangeColumn := ""
	for i, name := range def.GroupBy {
		if utils.IndexOf(def.GroupBy, name) != i {
			return schema, opts, invalid("grouping column %s listed twice", name)
		}
		col, err := source.Column(name)
		if err != nil {
			return schema, opts, invalid("grouping column %s: %s", name, err)
		}
		col.Key = true
		col.Nullable = false
		col.RowTimestamp = false
		if col.Type == table.TypeTimestamp && rangeColumn == "" {
			rangeColumn = col.Name
			col.RowTimestamp = true
		}
		cols = append(cols, col)
	}

	for _, item := range def.Select {
		col, skip, err := viewColumn(source, def.GroupBy, item)
		if err != nil {
			return schema, opts, err
		}
		if skip {
			continue
		}
		for _, existing := range cols {
			if existing.Name == col.Name {
				return schema, opts, invalid("duplicate view column %s", col.Name)
			}
		}
		cols = append(cols, col)
	}
	schema = table.NewSchema(cols...)

	if h := sourceOpts.Partitioning.Hash; h != nil {
		var hashCols []string
		for _, c := range h.Columns {
			if utils.ContainsString(def.GroupBy, c) {
				hashCols = append(hashCols, c)
			}
		}
		if len(hashCols) > 0 {
			opts.Partitioning.Hash = &part.HashPartition{Columns: hashCols, Buckets: h.Buckets}
		}
	}
	if rangeColumn != "" {
		opts.Partitioning.Range = &part.RangePartition{
			Columns: []string{rangeColumn},
			Bounds:  []part.RangeBound{BootstrapBound(rangeColumn)},
		}
	}
	if err := schema.Validate(); err != nil {
		return schema, opts, fmt.Errorf("%w: %s", ErrInvalidDefinition, err)
	}
	if err := opts.Partitioning.Validate(schema); err != nil {
		return schema, opts, fmt.Errorf("%w: %s", ErrInvalidDefinition, err)
	}
	opts.Replicas = sourceOpts.Replicas
	opts.ExtraConfigs = copyOptions(sourceOpts.ExtraConfigs)
	return schema, opts, nil
}

// viewColumn resolves a non grouping select item. Grouping columns repeated
// in the select list are skipped.
func viewColumn(source table.Schema, groupBy []string, item SelectItem) (table.Column, bool, error) {
	switch it := item.(type) {
	case ColumnItem:
		if utils.ContainsString(groupBy, it.Name) {
			return table.Column{}, true, nil
		}
		col, err := source.Column(it.Name)
		if err != nil {
			return col, false, invalid("select column %s: %s", it.Name, err)
		}
		col.Key = false
		col.RowTimestamp = false
		return col, false, nil

	case AggregateCall:
		op := strings.ToUpper(it.Operator)
		agg, ok := Aggregates[op]
		if !ok {
			return table.Column{}, false, invalid("aggregate operator %s not supported", it.Operator)
		}
		if len(it.Args) != 1 {
			return table.Column{}, false, invalid("%s takes exactly one column", it)
		}
		arg, ok := it.Args[0].(ColumnItem)
		if !ok {
			return table.Column{}, false, invalid("%s must aggregate a plain column", it)
		}
		src, err := source.Column(arg.Name)
		if err != nil {
			return table.Column{}, false, invalid("aggregate column %s: %s", arg.Name, err)
		}
		t, err := agg(src)
		if err != nil {
			return table.Column{}, false, fmt.Errorf("%w: %s", ErrInvalidDefinition, err)
		}
		return table.Column{
			Name:        AggregateColumnName(op, src.Name),
			Type:        t,
			Encoding:    src.Encoding,
			Compression: src.Compression,
			BlockSize:   src.BlockSize,
			Attributes:  src.Attributes,
		}, false, nil

	case AliasedItem:
		return table.Column{}, false, invalid("aliases are not supported in aggregate views: %s", it)
	}
	return table.Column{}, false, invalid("unsupported select item %s", item)
}
