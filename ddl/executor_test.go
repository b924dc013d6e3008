package ddl

import (
	"context"
	"testing"
	"time"

	"github.com/danthegoodman1/icescan/datastore"
	"github.com/danthegoodman1/icescan/metastore"
	"github.com/danthegoodman1/icescan/part"
	"github.com/danthegoodman1/icescan/table"
	"github.com/stretchr/testify/require"
)

func newExecutor(t *testing.T) *Executor {
	t.Helper()
	ds := datastore.NewMemDataStore()
	ms, err := metastore.NewCachedMetaStore(ds, 16)
	require.NoError(t, err)
	return &Executor{DataStore: ds, MetaStore: ms}
}

func txnsDef() CreateTable {
	return CreateTable{
		Name: "txns",
		Columns: []ColumnDef{
			{Name: "account", Type: table.TypeString},
			{Name: "ts", Type: table.TypeTimestamp, RowTimestamp: true},
			{Name: "amount", Type: table.TypeInt64},
		},
		PrimaryKey:    []string{"account", "ts"},
		HashPartition: &HashPartitionDef{Columns: []string{"account"}, Buckets: 2},
	}
}

func TestExecutorCreateTable(t *testing.T) {
	ctx := context.Background()
	e := newExecutor(t)
	require.NoError(t, e.CreateTable(ctx, txnsDef()))

	err := e.CreateTable(ctx, txnsDef())
	require.ErrorIs(t, err, datastore.ErrTableExists)
	require.True(t, datastore.IsStorageError(err))

	// a different definition is not compared when the table exists
	def := txnsDef()
	def.IfNotExists = true
	def.Columns = append(def.Columns, ColumnDef{Name: "extra", Type: table.TypeString, Nullable: true})
	require.NoError(t, e.CreateTable(ctx, def))

	tbl, err := e.MetaStore.GetTable(ctx, "txns")
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Schema.Len())
}

func TestExecutorRangePartitionInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	e := newExecutor(t)
	require.NoError(t, e.CreateTable(ctx, txnsDef()))

	day := time.Date(2022, 3, 1, 15, 0, 0, 0, time.UTC)
	row := table.Row{"AC1", day, int64(10)}
	require.Error(t, e.DataStore.Upsert(ctx, "txns", []table.Row{row}))

	// warm the cache before the partition is added
	before, err := e.MetaStore.GetTable(ctx, "txns")
	require.NoError(t, err)
	require.Len(t, before.Options.Partitioning.Range.Bounds, 1)

	require.NoError(t, e.AddRangePartition(ctx, "txns", "toDay", day))
	require.NoError(t, e.DataStore.Upsert(ctx, "txns", []table.Row{row}))

	after, err := e.MetaStore.GetTable(ctx, "txns")
	require.NoError(t, err)
	require.Len(t, after.Options.Partitioning.Range.Bounds, 2)

	// overlapping bound
	require.ErrorIs(t, e.AddRangePartition(ctx, "txns", "toHour", day), part.ErrOverlappingRange)
}

func TestExecutorCreateAggregateView(t *testing.T) {
	ctx := context.Background()
	e := newExecutor(t)
	require.NoError(t, e.CreateTable(ctx, txnsDef()))

	view := CreateAggregateView{
		Name:    "txns_by_account",
		Source:  "txns",
		GroupBy: []string{"account"},
		Select: []SelectItem{
			ColumnItem{Name: "account"},
			AggregateCall{Operator: "SUM", Args: []SelectItem{ColumnItem{Name: "amount"}}},
		},
	}
	require.NoError(t, e.CreateAggregateView(ctx, view))
	tbl, err := e.MetaStore.GetTable(ctx, "txns_by_account")
	require.NoError(t, err)
	require.Equal(t, []string{"account", "SUM_amount"}, tbl.Schema.Names())

	view.IfNotExists = true
	require.NoError(t, e.CreateAggregateView(ctx, view))

	view.Name = "other"
	view.Source = "missing"
	err = e.CreateAggregateView(ctx, view)
	require.ErrorIs(t, err, datastore.ErrTableNotFound)
}

// staleExistsStore reports every table as missing, as a concurrent creator
// between the existence check and the create would look.
type staleExistsStore struct {
	*datastore.MemDataStore
}

func (s staleExistsStore) TableExists(context.Context, string) (bool, error) {
	return false, nil
}

func TestExecutorIfNotExistsConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	ds := staleExistsStore{MemDataStore: datastore.NewMemDataStore()}
	ms, err := metastore.NewCachedMetaStore(ds, 16)
	require.NoError(t, err)
	e := &Executor{DataStore: ds, MetaStore: ms}

	require.NoError(t, e.CreateTable(ctx, txnsDef()))

	err = e.CreateTable(ctx, txnsDef())
	require.ErrorIs(t, err, datastore.ErrTableExists)

	def := txnsDef()
	def.IfNotExists = true
	require.NoError(t, e.CreateTable(ctx, def))

	view := CreateAggregateView{
		Name:    "txns_by_account",
		Source:  "txns",
		GroupBy: []string{"account"},
		Select:  []SelectItem{AggregateCall{Operator: "COUNT", Args: []SelectItem{ColumnItem{Name: "amount"}}}},
	}
	require.NoError(t, e.CreateAggregateView(ctx, view))
	require.ErrorIs(t, e.CreateAggregateView(ctx, view), datastore.ErrTableExists)
	view.IfNotExists = true
	require.NoError(t, e.CreateAggregateView(ctx, view))
}
