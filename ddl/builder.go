package ddl

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/danthegoodman1/icescan/part"
	"github.com/danthegoodman1/icescan/table"
)

var (
	ErrInvalidDefinition = errors.New("invalid table definition")
)

type (
	ColumnDef struct {
		Name     string
		Type     table.ColumnType
		Nullable bool

		// Key marks an inline primary key column
		Key          bool
		RowTimestamp bool

		Encoding    string
		Compression string
		BlockSize   int32
		Attributes  *table.TypeAttributes
	}

	HashPartitionDef struct {
		Columns []string
		Buckets int
	}

	CreateTable struct {
		Name    string
		Columns []ColumnDef

		// PrimaryKey is the PRIMARY KEY constraint, in key order
		PrimaryKey    []string
		HashPartition *HashPartitionDef
		Replicas      *int
		Options       map[string]string
		IfNotExists   bool
	}
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...))
}

// BootstrapBound is the placeholder range partition given to tables with a
// row timestamp column, so real bounds can be added later.
func BootstrapBound(column string) part.RangeBound {
	return part.RangeBound{
		Lower: table.NewPartialRow().Set(column, table.MinTimestamp),
		Upper: table.NewPartialRow().Set(column, table.MinTimestamp.Add(time.Microsecond)),
	}
}

// BuildTable derives the storage schema and partitioning for a table
// definition. Primary key constraint columns come first, in constraint
// order; the remaining columns keep their declared order.
func BuildTable(def CreateTable) (table.Schema, part.TableOptions, error) {
	var schema table.Schema
	var opts part.TableOptions
	if def.Name == "" {
		return schema, opts, invalid("missing table name")
	}

	var rowTimestamps []string
	seen := make(map[string]bool, len(def.Columns))
	for _, c := range def.Columns {
		if c.Name == "" {
			return schema, opts, invalid("column without a name")
		}
		if seen[c.Name] {
			return schema, opts, invalid("duplicate column %s", c.Name)
		}
		seen[c.Name] = true
		if c.RowTimestamp {
			rowTimestamps = append(rowTimestamps, c.Name)
		}
	}
	if len(rowTimestamps) > 1 {
		return schema, opts, invalid("only one row timestamp column can be defined, found %v", rowTimestamps)
	}

	pkPos := make(map[string]int, len(def.PrimaryKey))
	for i, name := range def.PrimaryKey {
		if !seen[name] {
			return schema, opts, invalid("primary key column %s is not defined", name)
		}
		if _, dup := pkPos[name]; dup {
			return schema, opts, invalid("primary key column %s listed twice", name)
		}
		pkPos[name] = i
	}

	cols := make([]table.Column, len(def.Columns))
	for i, c := range def.Columns {
		col := table.Column{
			Name:         c.Name,
			Type:         c.Type,
			Key:          c.Key,
			Nullable:     c.Nullable,
			RowTimestamp: c.RowTimestamp,
			Encoding:     c.Encoding,
			Compression:  c.Compression,
			BlockSize:    c.BlockSize,
			Attributes:   c.Attributes,
		}
		if _, ok := pkPos[c.Name]; ok {
			col.Key = true
		}
		if col.Key {
			col.Nullable = false
		}
		cols[i] = col
	}
	if len(pkPos) > 0 {
		after := len(pkPos)
		position := func(name string) int {
			if p, ok := pkPos[name]; ok {
				return p
			}
			return after
		}
		sort.SliceStable(cols, func(i, j int) bool {
			return position(cols[i].Name) < position(cols[j].Name)
		})
	}
	schema = table.NewSchema(cols...)
	if err := schema.Validate(); err != nil {
		return schema, opts, fmt.Errorf("%w: %s", ErrInvalidDefinition, err)
	}

	if hp := def.HashPartition; hp != nil && len(hp.Columns) > 0 {
		if hp.Buckets <= 0 {
			return schema, opts, invalid("hash partition needs a positive bucket count, got %d", hp.Buckets)
		}
		opts.Partitioning.Hash = &part.HashPartition{
			Columns: append([]string(nil), hp.Columns...),
			Buckets: hp.Buckets,
		}
	}
	if len(rowTimestamps) == 1 {
		col, _ := schema.Column(rowTimestamps[0])
		if col.Type != table.TypeTimestamp {
			return schema, opts, invalid("row timestamp column %s must be a timestamp, got %s", col.Name, col.Type)
		}
		opts.Partitioning.Range = &part.RangePartition{
			Columns: []string{col.Name},
			Bounds:  []part.RangeBound{BootstrapBound(col.Name)},
		}
	}
	if err := opts.Partitioning.Validate(schema); err != nil {
		return schema, opts, fmt.Errorf("%w: %s", ErrInvalidDefinition, err)
	}

	opts.Replicas = def.Replicas
	opts.ExtraConfigs = copyOptions(def.Options)
	return schema, opts, nil
}

func copyOptions(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
