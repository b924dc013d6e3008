package metastore

import (
	"context"
	"fmt"
	"sync"

	"github.com/danthegoodman1/icescan/datastore"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

type (
	// CachedMetaStore keeps recently opened tables in an LRU in front of a
	// data store.
	CachedMetaStore struct {
		ds    datastore.DataStore
		cache *lru.Cache[string, datastore.Table]

		// generations are bumped by invalidation; a fetch that saw an older
		// generation is not cached
		mu     sync.Mutex
		gens   map[string]uint64
		allGen uint64
	}

	generation struct {
		name uint64
		all  uint64
	}
)

func NewCachedMetaStore(ds datastore.DataStore, size int) (*CachedMetaStore, error) {
	if size < 1 {
		size = 1
	}
	cache, err := lru.New[string, datastore.Table](size)
	if err != nil {
		return nil, fmt.Errorf("error in lru.New: %w", err)
	}
	return &CachedMetaStore{ds: ds, cache: cache, gens: make(map[string]uint64)}, nil
}

func (cms *CachedMetaStore) GetTable(ctx context.Context, name string) (datastore.Table, error) {
	if tbl, ok := cms.cache.Get(name); ok {
		return tbl, nil
	}
	gen := cms.generation(name)
	tbl, err := cms.ds.OpenTable(ctx, name)
	if err != nil {
		return tbl, fmt.Errorf("error in OpenTable: %w", err)
	}

	cms.mu.Lock()
	defer cms.mu.Unlock()
	if (generation{name: cms.gens[name], all: cms.allGen}) != gen {
		zerolog.Ctx(ctx).Debug().Str("table", name).Msg("table invalidated during fetch, not caching")
		return tbl, nil
	}
	cms.cache.Add(name, tbl)
	zerolog.Ctx(ctx).Debug().Str("table", name).Msg("cached table")
	return tbl, nil
}

func (cms *CachedMetaStore) generation(name string) generation {
	cms.mu.Lock()
	defer cms.mu.Unlock()
	return generation{name: cms.gens[name], all: cms.allGen}
}

func (cms *CachedMetaStore) Invalidate(name string) {
	cms.mu.Lock()
	defer cms.mu.Unlock()
	cms.gens[name]++
	if cms.cache.Remove(name) {
		logger.Debug().Str("table", name).Msg("invalidated cached table")
	}
}

func (cms *CachedMetaStore) InvalidateAll() {
	cms.mu.Lock()
	defer cms.mu.Unlock()
	cms.allGen++
	cms.cache.Purge()
}
