package ddl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danthegoodman1/icescan/datastore"
	"github.com/danthegoodman1/icescan/gologger"
	"github.com/danthegoodman1/icescan/metastore"
	"github.com/danthegoodman1/icescan/partitioner"
	"github.com/rs/zerolog"
)

var (
	logger = gologger.NewLogger()
)

// Executor runs DDL against a storage engine and keeps the table cache in
// step with it.
type Executor struct {
	DataStore datastore.DataStore
	MetaStore metastore.MetaStore
}

// CreateTable creates the table unless IfNotExists is set and it already
// exists. An existing table's schema is not compared to def.
func (e *Executor) CreateTable(ctx context.Context, def CreateTable) error {
	schema, opts, err := BuildTable(def)
	if err != nil {
		return err
	}
	if def.IfNotExists {
		exists, err := e.DataStore.TableExists(ctx, def.Name)
		if err != nil {
			return datastore.Wrap("TableExists", def.Name, err)
		}
		if exists {
			zerolog.Ctx(ctx).Debug().Str("table", def.Name).Msg("table exists, skipping create")
			return nil
		}
	}
	err = e.DataStore.CreateTable(ctx, def.Name, schema, opts)
	if def.IfNotExists && errors.Is(err, datastore.ErrTableExists) {
		zerolog.Ctx(ctx).Debug().Str("table", def.Name).Msg("table created concurrently, skipping create")
		return nil
	}
	if err != nil {
		return datastore.Wrap("CreateTable", def.Name, err)
	}
	e.MetaStore.Invalidate(def.Name)
	zerolog.Ctx(ctx).Info().Str("table", def.Name).Strs("key", schema.KeyNames()).Msg("created table")
	return nil
}

func (e *Executor) CreateAggregateView(ctx context.Context, def CreateAggregateView) error {
	if def.IfNotExists {
		exists, err := e.DataStore.TableExists(ctx, def.Name)
		if err != nil {
			return datastore.Wrap("TableExists", def.Name, err)
		}
		if exists {
			zerolog.Ctx(ctx).Debug().Str("view", def.Name).Msg("view exists, skipping create")
			return nil
		}
	}
	src, err := e.MetaStore.GetTable(ctx, def.Source)
	if err != nil {
		return fmt.Errorf("error getting source table %s: %w", def.Source, err)
	}
	schema, opts, err := BuildAggregateView(src.Schema, src.Options, def)
	if err != nil {
		return err
	}
	err = e.DataStore.CreateTable(ctx, def.Name, schema, opts)
	if def.IfNotExists && errors.Is(err, datastore.ErrTableExists) {
		zerolog.Ctx(ctx).Debug().Str("view", def.Name).Msg("view created concurrently, skipping create")
		return nil
	}
	if err != nil {
		return datastore.Wrap("CreateTable", def.Name, err)
	}
	e.MetaStore.Invalidate(def.Name)
	zerolog.Ctx(ctx).Info().Str("view", def.Name).Str("source", def.Source).Strs("columns", schema.Names()).Msg("created aggregate view")
	return nil
}

// AddRangePartition adds the range partition holding at, sized by the
// partition function fn (toHour, toDay, toMonth, toYear), to the table's row
// timestamp column.
func (e *Executor) AddRangePartition(ctx context.Context, tableName, fn string, at time.Time) error {
	tbl, err := e.MetaStore.GetTable(ctx, tableName)
	if err != nil {
		return fmt.Errorf("error getting table %s: %w", tableName, err)
	}
	if tbl.Options.Partitioning.Range == nil || len(tbl.Options.Partitioning.Range.Columns) == 0 {
		return fmt.Errorf("%w: %s", partitioner.ErrNoRowTimestampRange, tableName)
	}
	bound, err := partitioner.RangeBoundFor(tbl.Options.Partitioning.Range.Columns[0], fn, at)
	if err != nil {
		return fmt.Errorf("error in partitioner.RangeBoundFor: %w", err)
	}
	if err = e.DataStore.AddRangePartition(ctx, tableName, bound); err != nil {
		return datastore.Wrap("AddRangePartition", tableName, err)
	}
	e.MetaStore.Invalidate(tableName)
	logger.Debug().Str("table", tableName).Str("func", fn).Time("at", at).Msg("added range partition")
	return nil
}
