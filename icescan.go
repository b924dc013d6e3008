package main

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/icescan/crdb"
	"github.com/danthegoodman1/icescan/datastore"
	"github.com/danthegoodman1/icescan/ddl"
	"github.com/danthegoodman1/icescan/metastore"
	"github.com/danthegoodman1/icescan/migrations"
	"github.com/danthegoodman1/icescan/query"
	"github.com/danthegoodman1/icescan/utils"
)

type (
	IceScan struct {
		DataStore datastore.DataStore
		MetaStore metastore.MetaStore
		Engine    *query.Engine
		DDL       *ddl.Executor
	}
)

func NewIceScan(ctx context.Context) (*IceScan, error) {
	ds, err := openDataStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error in openDataStore: %w", err)
	}
	ms, err := metastore.NewCachedMetaStore(ds, int(utils.CATALOG_CACHE_SIZE))
	if err != nil {
		return nil, fmt.Errorf("error in NewCachedMetaStore: %w", err)
	}
	engine, err := query.NewEngine(ds, ms, int(utils.JOIN_CONCURRENCY), int(utils.SCAN_BUFFER_SIZE))
	if err != nil {
		return nil, fmt.Errorf("error in query.NewEngine: %w", err)
	}
	return &IceScan{
		DataStore: ds,
		MetaStore: ms,
		Engine:    engine,
		DDL:       &ddl.Executor{DataStore: ds, MetaStore: ms},
	}, nil
}

func openDataStore(ctx context.Context) (datastore.DataStore, error) {
	switch utils.STORAGE_BACKEND {
	case "memory":
		logger.Warn().Msg("using the in-memory storage engine, data is lost on exit")
		return datastore.NewMemDataStore(), nil
	case "crdb":
		pool, err := crdb.ConnectToDB(ctx, utils.CRDB_DSN)
		if err != nil {
			return nil, fmt.Errorf("error in crdb.ConnectToDB: %w", err)
		}
		if utils.RUN_MIGRATIONS {
			if _, err = migrations.RunMigrations(utils.CRDB_DSN); err != nil {
				pool.Close()
				return nil, fmt.Errorf("error in migrations.RunMigrations: %w", err)
			}
		} else if err = migrations.CheckMigrations(utils.CRDB_DSN); err != nil {
			pool.Close()
			return nil, fmt.Errorf("error in migrations.CheckMigrations: %w", err)
		}
		ds := datastore.NewCRDBDataStore(pool)
		if utils.CRDB_SCAN_BATCH_SIZE > 0 {
			ds.BatchSize = int64(utils.CRDB_SCAN_BATCH_SIZE)
		}
		return ds, nil
	}
	return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", utils.STORAGE_BACKEND)
}

func (is *IceScan) Shutdown(ctx context.Context) error {
	is.Engine.Release()
	is.MetaStore.InvalidateAll()
	if err := is.DataStore.Shutdown(ctx); err != nil {
		return fmt.Errorf("error in DataStore.Shutdown: %w", err)
	}
	return nil
}
