package datastore

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/danthegoodman1/icescan/part"
	"github.com/danthegoodman1/icescan/partitioner"
	"github.com/danthegoodman1/icescan/predicate"
	"github.com/danthegoodman1/icescan/table"
	"github.com/stretchr/testify/require"
)

func testSchema() table.Schema {
	return table.NewSchema(
		table.Column{Name: "account", Type: table.TypeString, Key: true},
		table.Column{Name: "ts", Type: table.TypeTimestamp, Key: true, RowTimestamp: true},
		table.Column{Name: "amount", Type: table.TypeInt64, Nullable: true},
	)
}

func drain(t *testing.T, s Scanner) []table.Row {
	t.Helper()
	var rows []table.Row
	for {
		row, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
}

func setupStore(t *testing.T) (*MemDataStore, Table, time.Time) {
	t.Helper()
	ctx := context.Background()
	day := time.Date(2022, 1, 24, 0, 0, 0, 0, time.UTC)
	bound, err := partitioner.RangeBoundFor("ts", "toDay", day)
	require.NoError(t, err)
	ds := NewMemDataStore()
	err = ds.CreateTable(ctx, "txns", testSchema(), part.TableOptions{
		Partitioning: part.Spec{
			Hash:  &part.HashPartition{Columns: []string{"account"}, Buckets: 4},
			Range: &part.RangePartition{Columns: []string{"ts"}, Bounds: []part.RangeBound{bound}},
		},
	})
	require.NoError(t, err)
	rows := []table.Row{
		{"AC3", day.Add(time.Hour), int64(30)},
		{"AC1", day.Add(2 * time.Hour), int64(12)},
		{"AC2", day.Add(time.Hour), nil},
		{"AC1", day.Add(time.Hour), int64(11)},
	}
	require.NoError(t, ds.Upsert(ctx, "txns", rows))
	tbl, err := ds.OpenTable(ctx, "txns")
	require.NoError(t, err)
	return ds, tbl, day
}

func TestMemScanOrderAndProjection(t *testing.T) {
	ds, tbl, _ := setupStore(t)
	s, err := ds.OpenScan(context.Background(), tbl, ScanSpec{
		Columns: []int{2, 0},
		Limit:   Unbounded,
	})
	require.NoError(t, err)
	defer s.Close()

	// key order across hash buckets: (AC1, 1h) (AC1, 2h) (AC2, 1h) (AC3, 1h)
	require.Equal(t, []table.Row{
		{int64(11), "AC1"},
		{int64(12), "AC1"},
		{nil, "AC2"},
		{int64(30), "AC3"},
	}, drain(t, s))
}

func TestMemScanPredicatesAndLimit(t *testing.T) {
	ds, tbl, day := setupStore(t)
	s, err := ds.OpenScan(context.Background(), tbl, ScanSpec{
		Predicates: predicate.Conjunction{
			predicate.New(0, predicate.Equal, "AC1"),
			predicate.New(1, predicate.GreaterEqual, day.Add(time.Hour)),
		},
		Columns: []int{0, 1, 2},
		Limit:   1,
	})
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, int64(1), s.Limit())
	rows := drain(t, s)
	require.Len(t, rows, 1)
	require.Equal(t, int64(11), rows[0][2])
}

func TestMemUpsertReplaces(t *testing.T) {
	ds, tbl, day := setupStore(t)
	ctx := context.Background()
	require.NoError(t, ds.Upsert(ctx, "txns", []table.Row{{"AC1", day.Add(time.Hour), int64(99)}}))
	s, err := ds.OpenScan(ctx, tbl, ScanSpec{
		Predicates: predicate.Conjunction{predicate.New(0, predicate.Equal, "AC1")},
		Columns:    []int{2},
		Limit:      Unbounded,
	})
	require.NoError(t, err)
	require.Equal(t, []table.Row{{int64(99)}, {int64(12)}}, drain(t, s))
}

func TestMemErrors(t *testing.T) {
	ds, tbl, day := setupStore(t)
	ctx := context.Background()

	err := ds.CreateTable(ctx, "txns", testSchema(), part.TableOptions{})
	require.ErrorIs(t, err, ErrTableExists)
	require.True(t, IsStorageError(err))

	_, err = ds.OpenTable(ctx, "nope")
	require.ErrorIs(t, err, ErrTableNotFound)

	err = ds.Upsert(ctx, "txns", []table.Row{{"AC1", day.AddDate(0, 0, 3), int64(1)}})
	require.ErrorIs(t, err, partitioner.ErrNoRangePartition)

	err = ds.Upsert(ctx, "txns", []table.Row{{"AC1", day, "not an int"}})
	require.ErrorIs(t, err, table.ErrTypeMismatch)

	_, err = ds.OpenScan(ctx, tbl, ScanSpec{Columns: []int{7}, Limit: Unbounded})
	require.ErrorIs(t, err, table.ErrColumnNotFound)

	next, err := partitioner.RangeBoundFor("ts", "toDay", day.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.NoError(t, ds.AddRangePartition(ctx, "txns", next))
	// the row now lands in the new range partition
	require.NoError(t, ds.Upsert(ctx, "txns", []table.Row{{"AC1", day.AddDate(0, 0, 3), int64(1)}}))
}

func TestMemScannerClose(t *testing.T) {
	ds, tbl, _ := setupStore(t)
	s, err := ds.OpenScan(context.Background(), tbl, ScanSpec{Columns: []int{0}, Limit: Unbounded})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrScannerClosed)
}
