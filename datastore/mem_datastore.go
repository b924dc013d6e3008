package datastore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/danthegoodman1/icescan/part"
	"github.com/danthegoodman1/icescan/partitioner"
	"github.com/danthegoodman1/icescan/table"
	"github.com/danthegoodman1/icescan/utils"
	"github.com/rs/zerolog"
)

type (
	// MemDataStore is an in-process storage engine. Rows live in tablets keyed
	// by partition placement, each tablet sorted by primary key.
	MemDataStore struct {
		mu     sync.RWMutex
		tables map[string]*memTable
	}

	memTable struct {
		tbl     Table
		keys    []int
		tablets map[partitioner.Placement][]table.Row
	}

	memScanner struct {
		id     string
		limit  int64
		rows   []table.Row
		pos    int
		mu     sync.Mutex
		closed bool
	}
)

func NewMemDataStore() *MemDataStore {
	return &MemDataStore{
		tables: make(map[string]*memTable),
	}
}

func (mds *MemDataStore) TableExists(_ context.Context, name string) (bool, error) {
	mds.mu.RLock()
	defer mds.mu.RUnlock()
	_, exists := mds.tables[name]
	return exists, nil
}

func (mds *MemDataStore) OpenTable(_ context.Context, name string) (Table, error) {
	mds.mu.RLock()
	defer mds.mu.RUnlock()
	mt, exists := mds.tables[name]
	if !exists {
		return Table{}, Wrap("OpenTable", name, ErrTableNotFound)
	}
	return mt.snapshot(), nil
}

func (mds *MemDataStore) CreateTable(ctx context.Context, name string, schema table.Schema, opts part.TableOptions) error {
	if err := schema.Validate(); err != nil {
		return Wrap("CreateTable", name, err)
	}
	if err := opts.Partitioning.Validate(schema); err != nil {
		return Wrap("CreateTable", name, err)
	}

	mds.mu.Lock()
	defer mds.mu.Unlock()
	if _, exists := mds.tables[name]; exists {
		return Wrap("CreateTable", name, ErrTableExists)
	}
	mds.tables[name] = &memTable{
		tbl: Table{
			ID:      utils.GenRandomShortID(),
			Name:    name,
			Schema:  schema,
			Options: opts,
		},
		keys:    schema.KeyIndexes(),
		tablets: make(map[partitioner.Placement][]table.Row),
	}
	zerolog.Ctx(ctx).Debug().Str("table", name).Int("columns", schema.Len()).Msg("created in-memory table")
	return nil
}

func (mds *MemDataStore) AddRangePartition(_ context.Context, name string, bound part.RangeBound) error {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	mt, exists := mds.tables[name]
	if !exists {
		return Wrap("AddRangePartition", name, ErrTableNotFound)
	}
	rp := mt.tbl.Options.Partitioning.Range
	if rp == nil {
		return Wrap("AddRangePartition", name, partitioner.ErrNoRowTimestampRange)
	}
	// bounds are only appended, so existing placements stay valid
	if err := rp.AddBound(bound); err != nil {
		return Wrap("AddRangePartition", name, err)
	}
	return nil
}

func (mds *MemDataStore) Upsert(_ context.Context, name string, rows []table.Row) error {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	mt, exists := mds.tables[name]
	if !exists {
		return Wrap("Upsert", name, ErrTableNotFound)
	}
	for i, row := range rows {
		if err := checkRow(mt.tbl.Schema, row); err != nil {
			return Wrap("Upsert", name, fmt.Errorf("row %d: %w", i, err))
		}
		placement, err := partitioner.GetRowPlacement(mt.tbl.Schema, mt.tbl.Options.Partitioning, row)
		if err != nil {
			return Wrap("Upsert", name, fmt.Errorf("row %d: %w", i, err))
		}
		mt.tablets[placement] = upsertSorted(mt.tablets[placement], append(table.Row(nil), row...), mt.keys)
	}
	return nil
}

func (mds *MemDataStore) OpenScan(ctx context.Context, tbl Table, spec ScanSpec) (Scanner, error) {
	if err := ValidateSpec(tbl, spec); err != nil {
		return nil, Wrap("OpenScan", tbl.Name, err)
	}
	mds.mu.RLock()
	mt, exists := mds.tables[tbl.Name]
	if !exists {
		mds.mu.RUnlock()
		return nil, Wrap("OpenScan", tbl.Name, ErrTableNotFound)
	}
	var matched []table.Row
	for _, tablet := range mt.tablets {
		for _, row := range tablet {
			if spec.Predicates.Eval(row) {
				matched = append(matched, row)
			}
		}
	}
	keys := mt.keys
	mds.mu.RUnlock()

	// tablets are each sorted, the scan as a whole must be too
	sort.Slice(matched, func(i, j int) bool {
		return table.CompareKeys(matched[i], matched[j], keys) < 0
	})
	if spec.Limit < int64(len(matched)) {
		matched = matched[:spec.Limit]
	}
	out := make([]table.Row, len(matched))
	for i, row := range matched {
		projected := make(table.Row, len(spec.Columns))
		for j, c := range spec.Columns {
			projected[j] = row[c]
		}
		out[i] = projected
	}

	id := spec.ID
	if id == "" {
		id = utils.GenKSortedID("scn_")
	}
	zerolog.Ctx(ctx).Debug().Str("table", tbl.Name).Str("scanner", id).Int("rows", len(out)).Int64("limit", spec.Limit).Msg("opened in-memory scan")
	return &memScanner{id: id, limit: spec.Limit, rows: out}, nil
}

func (mds *MemDataStore) Shutdown(_ context.Context) error {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	mds.tables = make(map[string]*memTable)
	return nil
}

func (mt *memTable) snapshot() Table {
	t := mt.tbl
	t.Schema = table.Schema{Columns: append([]table.Column(nil), mt.tbl.Schema.Columns...)}
	if rp := mt.tbl.Options.Partitioning.Range; rp != nil {
		cp := *rp
		cp.Bounds = append([]part.RangeBound(nil), rp.Bounds...)
		t.Options.Partitioning.Range = &cp
	}
	return t
}

func checkRow(schema table.Schema, row table.Row) error {
	if len(row) != schema.Len() {
		return fmt.Errorf("expected %d values, got %d", schema.Len(), len(row))
	}
	for i, c := range schema.Columns {
		if row[i] == nil {
			if !c.Nullable {
				return fmt.Errorf("column %s is not nullable", c.Name)
			}
			continue
		}
		if !c.Type.Accepts(row[i]) {
			return fmt.Errorf("%w: column %s is %s, got %T", table.ErrTypeMismatch, c.Name, c.Type, row[i])
		}
	}
	return nil
}

func upsertSorted(rows []table.Row, row table.Row, keys []int) []table.Row {
	i := sort.Search(len(rows), func(i int) bool {
		return table.CompareKeys(rows[i], row, keys) >= 0
	})
	if i < len(rows) && table.CompareKeys(rows[i], row, keys) == 0 {
		rows[i] = row
		return rows
	}
	rows = append(rows, nil)
	copy(rows[i+1:], rows[i:])
	rows[i] = row
	return rows
}

func (ms *memScanner) ID() string {
	return ms.id
}

func (ms *memScanner) Limit() int64 {
	return ms.limit
}

func (ms *memScanner) Next(ctx context.Context) (table.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return nil, ErrScannerClosed
	}
	if ms.pos >= len(ms.rows) {
		return nil, io.EOF
	}
	row := ms.rows[ms.pos]
	ms.pos++
	return row, nil
}

func (ms *memScanner) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.closed = true
	ms.rows = nil
	return nil
}
