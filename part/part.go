package part

import (
	"errors"
	"fmt"

	"github.com/danthegoodman1/icescan/table"
)

type (
	HashPartition struct {
		Columns []string
		Buckets int
	}

	// RangeBound is a half open [Lower, Upper) interval over the range columns
	RangeBound struct {
		Lower table.PartialRow
		Upper table.PartialRow
	}

	RangePartition struct {
		Columns []string
		Bounds  []RangeBound
	}

	Spec struct {
		Hash  *HashPartition  `json:",omitempty"`
		Range *RangePartition `json:",omitempty"`
	}

	TableOptions struct {
		Partitioning Spec
		// Replicas is nil when the storage engine default applies
		Replicas     *int              `json:",omitempty"`
		ExtraConfigs map[string]string `json:",omitempty"`
	}
)

var (
	ErrOverlappingRange = errors.New("range partition overlaps an existing partition")
	ErrInvalidBound     = errors.New("invalid range bound")
)

// Validate checks partition columns exist in schema and bounds are well formed.
func (s Spec) Validate(schema table.Schema) error {
	if s.Hash != nil {
		if len(s.Hash.Columns) == 0 {
			return errors.New("hash partition without columns")
		}
		if s.Hash.Buckets < 2 {
			return fmt.Errorf("hash partition needs at least 2 buckets, got %d", s.Hash.Buckets)
		}
		for _, c := range s.Hash.Columns {
			col, err := schema.Column(c)
			if err != nil {
				return fmt.Errorf("hash partition: %w", err)
			}
			if !col.Key {
				return fmt.Errorf("hash partition column %s is not a key column", c)
			}
		}
	}
	if s.Range != nil {
		for _, c := range s.Range.Columns {
			col, err := schema.Column(c)
			if err != nil {
				return fmt.Errorf("range partition: %w", err)
			}
			if !col.Key {
				return fmt.Errorf("range partition column %s is not a key column", c)
			}
		}
		for i, b := range s.Range.Bounds {
			if err := s.Range.checkBound(b); err != nil {
				return fmt.Errorf("bound %d: %w", i, err)
			}
		}
	}
	return nil
}

func (r *RangePartition) checkBound(b RangeBound) error {
	if r.compareRows(b.Lower, b.Upper) >= 0 {
		return fmt.Errorf("%w: lower bound is not below upper bound", ErrInvalidBound)
	}
	return nil
}

// AddBound appends b if it does not overlap an existing bound.
func (r *RangePartition) AddBound(b RangeBound) error {
	if err := r.checkBound(b); err != nil {
		return err
	}
	for _, existing := range r.Bounds {
		if r.compareRows(b.Lower, existing.Upper) < 0 && r.compareRows(existing.Lower, b.Upper) < 0 {
			return ErrOverlappingRange
		}
	}
	r.Bounds = append(r.Bounds, b)
	return nil
}

// Contains reports which bound (by index) holds the row values, or -1.
func (r *RangePartition) Contains(vals table.PartialRow) int {
	for i, b := range r.Bounds {
		if r.compareRows(b.Lower, vals) <= 0 && r.compareRows(vals, b.Upper) < 0 {
			return i
		}
	}
	return -1
}

// compareRows orders partial rows over the range columns; a missing value is
// unbounded and sorts first.
func (r *RangePartition) compareRows(a, b table.PartialRow) int {
	for _, c := range r.Columns {
		av, _ := a.Get(c)
		bv, _ := b.Get(c)
		if cmp := table.Compare(av, bv); cmp != 0 {
			return cmp
		}
	}
	return 0
}
