package table

import (
	"errors"
	"fmt"
)

type (
	// Row is positional: values follow the schema's column order, or the
	// projection order when produced by a scan.
	Row []any

	Column struct {
		Name     string
		Type     ColumnType
		Key      bool
		Nullable bool

		// RowTimestamp marks the column that bootstraps range partitioning
		RowTimestamp bool

		// Storage hints, copied verbatim into derived tables
		Encoding    string
		Compression string
		BlockSize   int32
		Attributes  *TypeAttributes
	}

	TypeAttributes struct {
		Precision int32
		Scale     int32
		Length    int32
	}

	Schema struct {
		Columns []Column
	}
)

var (
	ErrColumnNotFound = errors.New("column not found")
)

func NewSchema(cols ...Column) Schema {
	return Schema{Columns: cols}
}

func (s Schema) Len() int {
	return len(s.Columns)
}

// ColumnIndex returns the position of the named column, or -1.
func (s Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (s Schema) Column(name string) (Column, error) {
	i := s.ColumnIndex(name)
	if i == -1 {
		return Column{}, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	return s.Columns[i], nil
}

// KeyIndexes returns the primary key column positions in key order.
func (s Schema) KeyIndexes() []int {
	var idx []int
	for i, c := range s.Columns {
		if c.Key {
			idx = append(idx, i)
		}
	}
	return idx
}

func (s Schema) KeyNames() []string {
	var names []string
	for _, c := range s.Columns {
		if c.Key {
			names = append(names, c.Name)
		}
	}
	return names
}

func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// RowTimestampColumn returns the row timestamp column position, or -1.
func (s Schema) RowTimestampColumn() int {
	for i, c := range s.Columns {
		if c.RowTimestamp {
			return i
		}
	}
	return -1
}

// Project returns the schema restricted to the given column positions.
func (s Schema) Project(cols []int) (Schema, error) {
	out := Schema{Columns: make([]Column, 0, len(cols))}
	for _, c := range cols {
		if c < 0 || c >= len(s.Columns) {
			return Schema{}, fmt.Errorf("%w: index %d", ErrColumnNotFound, c)
		}
		out.Columns = append(out.Columns, s.Columns[c])
	}
	return out, nil
}

// Validate checks the structural rules every stored table follows: unique
// names, at least one key column, and key columns forming a prefix.
func (s Schema) Validate() error {
	if len(s.Columns) == 0 {
		return errors.New("schema has no columns")
	}
	seen := make(map[string]bool, len(s.Columns))
	keyPrefix := true
	keys := 0
	for _, c := range s.Columns {
		if c.Name == "" {
			return errors.New("column with empty name")
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %s", c.Name)
		}
		seen[c.Name] = true
		if !c.Type.Valid() {
			return fmt.Errorf("column %s has invalid type %d", c.Name, c.Type)
		}
		if c.Key {
			if !keyPrefix {
				return fmt.Errorf("key column %s follows a non-key column", c.Name)
			}
			if c.Nullable {
				return fmt.Errorf("key column %s is nullable", c.Name)
			}
			keys++
		} else {
			keyPrefix = false
		}
	}
	if keys == 0 {
		return errors.New("schema has no primary key column")
	}
	return nil
}

// CompareKeys orders two rows by the values at the given positions.
func CompareKeys(a, b Row, positions []int) int {
	for _, p := range positions {
		if c := Compare(a[p], b[p]); c != 0 {
			return c
		}
	}
	return 0
}
