package metastore

import (
	"context"
	"testing"

	"github.com/danthegoodman1/icescan/datastore"
	"github.com/danthegoodman1/icescan/part"
	"github.com/danthegoodman1/icescan/table"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*datastore.MemDataStore
	opens int

	// onOpen runs after the table is read, before it is returned
	onOpen func()
}

func (cs *countingStore) OpenTable(ctx context.Context, name string) (datastore.Table, error) {
	cs.opens++
	tbl, err := cs.MemDataStore.OpenTable(ctx, name)
	if cs.onOpen != nil {
		cs.onOpen()
	}
	return tbl, err
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	ds := &countingStore{MemDataStore: datastore.NewMemDataStore()}
	schema := table.NewSchema(
		table.Column{Name: "id", Type: table.TypeInt64, Key: true},
		table.Column{Name: "v", Type: table.TypeString, Nullable: true},
	)
	require.NoError(t, ds.CreateTable(context.Background(), "t", schema, part.TableOptions{}))
	return ds
}

func TestCachedMetaStore(t *testing.T) {
	ctx := context.Background()
	ds := newCountingStore(t)

	ms, err := NewCachedMetaStore(ds, 8)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		tbl, err := ms.GetTable(ctx, "t")
		require.NoError(t, err)
		require.Equal(t, 2, tbl.Schema.Len())
	}
	require.Equal(t, 1, ds.opens)

	ms.Invalidate("t")
	_, err = ms.GetTable(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, 2, ds.opens)

	ms.InvalidateAll()
	_, err = ms.GetTable(ctx, "missing")
	require.ErrorIs(t, err, datastore.ErrTableNotFound)
}

func TestCachedMetaStoreInvalidateDuringFetch(t *testing.T) {
	ctx := context.Background()
	ds := newCountingStore(t)
	ms, err := NewCachedMetaStore(ds, 8)
	require.NoError(t, err)

	ds.onOpen = func() { ms.Invalidate("t") }
	_, err = ms.GetTable(ctx, "t")
	require.NoError(t, err)
	ds.onOpen = nil

	// the fetch raced an invalidation, so it must not have been cached
	_, err = ms.GetTable(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, 2, ds.opens)

	// now cached
	_, err = ms.GetTable(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, 2, ds.opens)

	ds.onOpen = func() { ms.InvalidateAll() }
	ms.Invalidate("t")
	_, err = ms.GetTable(ctx, "t")
	require.NoError(t, err)
	ds.onOpen = nil
	_, err = ms.GetTable(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, 4, ds.opens)
}
