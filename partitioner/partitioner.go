package partitioner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/danthegoodman1/icescan/part"
	"github.com/danthegoodman1/icescan/table"
)

type (
	// Placement locates a row: its hash bucket (0 without hash partitioning)
	// and the index of the range bound holding it (0 without range
	// partitioning).
	Placement struct {
		Bucket int
		Range  int
	}

	// BoundFunc returns the [lower, upper) interval containing t.
	BoundFunc func(t time.Time) (time.Time, time.Time)
)

var (
	Functions = make(map[string]BoundFunc)

	ErrFuncNotFound        = errors.New("partition function not found")
	ErrMissingColumns      = errors.New("missing one or more partition columns")
	ErrNoRangePartition    = errors.New("row does not fall in any range partition")
	ErrInvalidColumnType   = errors.New("invalid column type")
	ErrNoRowTimestampRange = errors.New("table has no row timestamp range partitioning")
)

func init() {
	RegisterFunctions()
}

func RegisterFunctions() {
	Functions["toHour"] = func(t time.Time) (time.Time, time.Time) {
		lower := t.UTC().Truncate(time.Hour)
		return lower, lower.Add(time.Hour)
	}
	Functions["toDay"] = func(t time.Time) (time.Time, time.Time) {
		t = t.UTC()
		lower := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return lower, lower.AddDate(0, 0, 1)
	}
	Functions["toMonth"] = func(t time.Time) (time.Time, time.Time) {
		t = t.UTC()
		lower := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return lower, lower.AddDate(0, 1, 0)
	}
	Functions["toYear"] = func(t time.Time) (time.Time, time.Time) {
		t = t.UTC()
		lower := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return lower, lower.AddDate(1, 0, 0)
	}
}

// RangeBoundFor builds the range partition bound on column holding t, using
// the named bucket function.
func RangeBoundFor(column, fn string, t time.Time) (part.RangeBound, error) {
	f, ok := Functions[fn]
	if !ok {
		return part.RangeBound{}, fmt.Errorf("%w: %s", ErrFuncNotFound, fn)
	}
	lower, upper := f(t)
	return part.RangeBound{
		Lower: table.NewPartialRow().Set(column, lower),
		Upper: table.NewPartialRow().Set(column, upper),
	}, nil
}

// HashBucket hashes the values into one of buckets.
func HashBucket(vals []any, buckets int) int {
	d := xxhash.New()
	for _, v := range vals {
		t, _ := table.TypeOf(v)
		switch x := v.(type) {
		case time.Time:
			fmt.Fprintf(d, "%d:%d|", t, x.UnixMicro())
		case []byte:
			fmt.Fprintf(d, "%d:%x|", t, x)
		default:
			fmt.Fprintf(d, "%d:%v|", t, x)
		}
	}
	return int(d.Sum64() % uint64(buckets))
}

// GetRowPlacement finds where a full schema row lives under spec.
func GetRowPlacement(schema table.Schema, spec part.Spec, row table.Row) (Placement, error) {
	var p Placement
	if spec.Hash != nil {
		vals := make([]any, 0, len(spec.Hash.Columns))
		for _, c := range spec.Hash.Columns {
			i := schema.ColumnIndex(c)
			if i == -1 || i >= len(row) {
				return p, fmt.Errorf("%w: %s", ErrMissingColumns, c)
			}
			vals = append(vals, row[i])
		}
		p.Bucket = HashBucket(vals, spec.Hash.Buckets)
	}
	if spec.Range != nil && len(spec.Range.Columns) > 0 {
		vals := table.NewPartialRow()
		for _, c := range spec.Range.Columns {
			i := schema.ColumnIndex(c)
			if i == -1 || i >= len(row) {
				return p, fmt.Errorf("%w: %s", ErrMissingColumns, c)
			}
			vals = vals.Set(c, row[i])
		}
		r := spec.Range.Contains(vals)
		if r == -1 {
			return p, ErrNoRangePartition
		}
		p.Range = r
	}
	return p, nil
}

// GetRowPartition renders the placement as a partition path, e.g.
// `bucket=3/range=0`.
func GetRowPartition(schema table.Schema, spec part.Spec, row table.Row) (string, error) {
	p, err := GetRowPlacement(schema, spec, row)
	if err != nil {
		return "", err
	}
	var finalParts []string
	if spec.Hash != nil {
		finalParts = append(finalParts, fmt.Sprintf("bucket=%d", p.Bucket))
	}
	if spec.Range != nil && len(spec.Range.Columns) > 0 {
		finalParts = append(finalParts, fmt.Sprintf("range=%d", p.Range))
	}
	return strings.Join(finalParts, "/"), nil
}
