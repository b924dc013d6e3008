package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danthegoodman1/icescan/part"
	"github.com/danthegoodman1/icescan/partitioner"
	"github.com/danthegoodman1/icescan/predicate"
	"github.com/danthegoodman1/icescan/table"
	"github.com/danthegoodman1/icescan/utils"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

const (
	catalogTable = "icescan_tables"

	pgDuplicateTable = "42P07"
)

var (
	StandardContextTimeout = 10 * time.Second

	// DefaultScanBatchSize is the number of rows a scanner reads per query
	DefaultScanBatchSize int64 = 1000

	sqlTypes = map[table.ColumnType]string{
		table.TypeBool:      "BOOLEAN",
		table.TypeInt8:      "SMALLINT",
		table.TypeInt16:     "SMALLINT",
		table.TypeInt32:     "INTEGER",
		table.TypeInt64:     "BIGINT",
		table.TypeFloat:     "REAL",
		table.TypeDouble:    "DOUBLE PRECISION",
		table.TypeString:    "TEXT",
		table.TypeBinary:    "BYTEA",
		table.TypeTimestamp: "TIMESTAMPTZ",
	}

	sqlOps = map[predicate.Op]string{
		predicate.Equal:        "=",
		predicate.Greater:      ">",
		predicate.GreaterEqual: ">=",
		predicate.Less:         "<",
		predicate.LessEqual:    "<=",
	}
)

type (
	// CRDBDataStore stores every table as a SQL table in CockroachDB (or
	// Postgres) with a catalog row describing its schema and partitioning.
	// Partitioning is kept in the catalog only; CRDB's own range splitting
	// handles physical placement.
	CRDBDataStore struct {
		pool *pgxpool.Pool

		// BatchSize caps the rows a scanner reads per query. Each batch
		// acquires and releases its own connection, so open scanners never
		// hold one.
		BatchSize int64
	}

	// crdbScanner pages through the table in primary key order, resuming
	// each batch after the last key it read.
	crdbScanner struct {
		id        string
		limit     int64
		pool      *pgxpool.Pool
		tbl       Table
		spec      ScanSpec
		cols      []table.Column
		batchSize int64

		buf       []table.Row
		after     []any
		remaining int64
		exhausted bool
		closed    bool
	}
)

func NewCRDBDataStore(pool *pgxpool.Pool) *CRDBDataStore {
	return &CRDBDataStore{pool: pool, BatchSize: DefaultScanBatchSize}
}

func (cds *CRDBDataStore) TableExists(ctx context.Context, name string) (exists bool, err error) {
	err = utils.ReliableExec(ctx, cds.pool, StandardContextTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM "+catalogTable+" WHERE name = $1)", name).Scan(&exists)
	})
	if err != nil {
		return false, Wrap("TableExists", name, fmt.Errorf("error in catalog lookup: %w", err))
	}
	return exists, nil
}

func (cds *CRDBDataStore) OpenTable(ctx context.Context, name string) (Table, error) {
	tbl := Table{Name: name}
	var rawSchema, rawOptions []byte
	err := utils.ReliableExec(ctx, cds.pool, StandardContextTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		err := conn.QueryRow(ctx, "SELECT id, schema, options FROM "+catalogTable+" WHERE name = $1", name).Scan(&tbl.ID, &rawSchema, &rawOptions)
		if errors.Is(err, pgx.ErrNoRows) {
			return utils.Permanent(err)
		}
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return tbl, Wrap("OpenTable", name, ErrTableNotFound)
	}
	if err != nil {
		return tbl, Wrap("OpenTable", name, fmt.Errorf("error in catalog lookup: %w", err))
	}
	if err = json.Unmarshal(rawSchema, &tbl.Schema); err != nil {
		return tbl, Wrap("OpenTable", name, fmt.Errorf("error in json.Unmarshal of schema: %w", err))
	}
	if err = json.Unmarshal(rawOptions, &tbl.Options); err != nil {
		return tbl, Wrap("OpenTable", name, fmt.Errorf("error in json.Unmarshal of options: %w", err))
	}
	return tbl, nil
}

func (cds *CRDBDataStore) CreateTable(ctx context.Context, name string, schema table.Schema, opts part.TableOptions) error {
	logger := zerolog.Ctx(ctx)
	if err := schema.Validate(); err != nil {
		return Wrap("CreateTable", name, err)
	}
	if err := opts.Partitioning.Validate(schema); err != nil {
		return Wrap("CreateTable", name, err)
	}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return Wrap("CreateTable", name, fmt.Errorf("error in json.Marshal of schema: %w", err))
	}
	optionsJSON, err := json.Marshal(opts)
	if err != nil {
		return Wrap("CreateTable", name, fmt.Errorf("error in json.Marshal of options: %w", err))
	}
	ddl := createTableSQL(name, schema)

	err = utils.ReliableExecInTx(ctx, cds.pool, StandardContextTimeout, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "INSERT INTO "+catalogTable+" (name, id, schema, options) VALUES ($1, $2, $3, $4) ON CONFLICT (name) DO NOTHING",
			name, utils.GenRandomShortID(), string(schemaJSON), string(optionsJSON))
		if err != nil {
			return fmt.Errorf("error inserting catalog row: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrTableExists
		}
		if _, err = tx.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("error creating table: %w", err)
		}
		return nil
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateTable {
		err = ErrTableExists
	}
	if err != nil {
		return Wrap("CreateTable", name, err)
	}
	logger.Debug().Str("table", name).Str("ddl", ddl).Msg("created table")
	return nil
}

func (cds *CRDBDataStore) AddRangePartition(ctx context.Context, name string, bound part.RangeBound) error {
	err := utils.ReliableExecInTx(ctx, cds.pool, StandardContextTimeout, func(ctx context.Context, tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx, "SELECT options FROM "+catalogTable+" WHERE name = $1 FOR UPDATE", name).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTableNotFound
		}
		if err != nil {
			return fmt.Errorf("error reading catalog options: %w", err)
		}
		var opts part.TableOptions
		if err = json.Unmarshal(raw, &opts); err != nil {
			return fmt.Errorf("error in json.Unmarshal of options: %w", err)
		}
		if opts.Partitioning.Range == nil {
			return partitioner.ErrNoRowTimestampRange
		}
		if err = opts.Partitioning.Range.AddBound(bound); err != nil {
			return err
		}
		updated, err := json.Marshal(opts)
		if err != nil {
			return fmt.Errorf("error in json.Marshal of options: %w", err)
		}
		_, err = tx.Exec(ctx, "UPDATE "+catalogTable+" SET options = $2, updated_at = now() WHERE name = $1", name, string(updated))
		return err
	})
	return Wrap("AddRangePartition", name, err)
}

func (cds *CRDBDataStore) Upsert(ctx context.Context, name string, rows []table.Row) error {
	tbl, err := cds.OpenTable(ctx, name)
	if err != nil {
		return err
	}
	for i, row := range rows {
		if err := checkRow(tbl.Schema, row); err != nil {
			return Wrap("Upsert", name, fmt.Errorf("row %d: %w", i, err))
		}
		if _, err := partitioner.GetRowPlacement(tbl.Schema, tbl.Options.Partitioning, row); err != nil {
			return Wrap("Upsert", name, fmt.Errorf("row %d: %w", i, err))
		}
	}
	stmt := upsertSQL(name, tbl.Schema)
	err = utils.ReliableExecInTx(ctx, cds.pool, StandardContextTimeout, func(ctx context.Context, tx pgx.Tx) error {
		for _, row := range rows {
			if _, err := tx.Exec(ctx, stmt, []any(row)...); err != nil {
				return fmt.Errorf("error in upsert: %w", err)
			}
		}
		return nil
	})
	return Wrap("Upsert", name, err)
}

func (cds *CRDBDataStore) OpenScan(ctx context.Context, tbl Table, spec ScanSpec) (Scanner, error) {
	if err := ValidateSpec(tbl, spec); err != nil {
		return nil, Wrap("OpenScan", tbl.Name, err)
	}
	id := spec.ID
	if id == "" {
		id = utils.GenKSortedID("scn_")
	}
	cols := make([]table.Column, len(spec.Columns))
	for i, c := range spec.Columns {
		cols[i] = tbl.Schema.Columns[c]
	}
	batchSize := cds.BatchSize
	if batchSize < 1 {
		batchSize = DefaultScanBatchSize
	}
	cs := &crdbScanner{
		id:        id,
		limit:     spec.Limit,
		pool:      cds.pool,
		tbl:       tbl,
		spec:      spec,
		cols:      cols,
		batchSize: batchSize,
		remaining: spec.Limit,
	}
	// the first batch surfaces missing tables and bad predicates at open
	if err := cs.fetch(ctx); err != nil {
		return nil, Wrap("OpenScan", tbl.Name, err)
	}
	zerolog.Ctx(ctx).Debug().Str("table", tbl.Name).Str("scanner", id).Int64("batch", batchSize).Msg("opened scan")
	return cs, nil
}

func (cds *CRDBDataStore) Shutdown(_ context.Context) error {
	logger.Debug().Msg("closing CRDB pool")
	cds.pool.Close()
	return nil
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func createTableSQL(name string, schema table.Schema) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(quote(name))
	b.WriteString(" (")
	for i, c := range schema.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(c.Name))
		b.WriteString(" ")
		b.WriteString(sqlTypes[c.Type])
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	keys := make([]string, 0)
	for _, k := range schema.KeyNames() {
		keys = append(keys, quote(k))
	}
	b.WriteString(", PRIMARY KEY (")
	b.WriteString(strings.Join(keys, ", "))
	b.WriteString("))")
	return b.String()
}

func upsertSQL(name string, schema table.Schema) string {
	cols := make([]string, len(schema.Columns))
	params := make([]string, len(schema.Columns))
	var keys, updates []string
	for i, c := range schema.Columns {
		cols[i] = quote(c.Name)
		params[i] = fmt.Sprintf("$%d", i+1)
		if c.Key {
			keys = append(keys, quote(c.Name))
		} else {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", quote(c.Name), quote(c.Name)))
		}
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO ",
		quote(name), strings.Join(cols, ", "), strings.Join(params, ", "), strings.Join(keys, ", "))
	if len(updates) == 0 {
		return stmt + "NOTHING"
	}
	return stmt + "UPDATE SET " + strings.Join(updates, ", ")
}

// pageSQL selects one batch: the scan columns followed by the key columns,
// resuming after the key tuple in after when it is set.
func pageSQL(tbl Table, spec ScanSpec, after []any, limit int64) (string, []any) {
	keys := make([]string, 0)
	for _, k := range tbl.Schema.KeyNames() {
		keys = append(keys, quote(k))
	}
	cols := make([]string, 0, len(spec.Columns)+len(keys))
	for _, c := range spec.Columns {
		cols = append(cols, quote(tbl.Schema.Columns[c].Name))
	}
	cols = append(cols, keys...)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ", "), quote(tbl.Name))
	args := make([]any, 0, len(spec.Predicates)+len(after))
	conds := make([]string, 0, len(spec.Predicates)+1)
	for _, p := range spec.Predicates {
		args = append(args, p.Value)
		conds = append(conds, fmt.Sprintf("%s %s $%d", quote(tbl.Schema.Columns[p.Column].Name), sqlOps[p.Op], len(args)))
	}
	if len(after) > 0 {
		params := make([]string, len(after))
		for i, v := range after {
			args = append(args, v)
			params[i] = fmt.Sprintf("$%d", len(args))
		}
		conds = append(conds, fmt.Sprintf("(%s) > (%s)", strings.Join(keys, ", "), strings.Join(params, ", ")))
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY %s LIMIT %d", strings.Join(keys, ", "), limit)
	return b.String(), args
}

func (cs *crdbScanner) ID() string {
	return cs.id
}

func (cs *crdbScanner) Limit() int64 {
	return cs.limit
}

func (cs *crdbScanner) Next(ctx context.Context) (table.Row, error) {
	if cs.closed {
		return nil, ErrScannerClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(cs.buf) == 0 {
		if err := cs.fetch(ctx); err != nil {
			return nil, Wrap("Scan", cs.tbl.Name, err)
		}
		if len(cs.buf) == 0 {
			return nil, io.EOF
		}
	}
	row := cs.buf[0]
	cs.buf = cs.buf[1:]
	return row, nil
}

// fetch reads the next batch into buf. The connection is released before it
// returns.
func (cs *crdbScanner) fetch(ctx context.Context) error {
	if cs.exhausted {
		return nil
	}
	n := cs.batchSize
	if cs.remaining < n {
		n = cs.remaining
	}
	if n <= 0 {
		cs.exhausted = true
		return nil
	}
	stmt, args := pageSQL(cs.tbl, cs.spec, cs.after, n)
	var page []table.Row
	var last []any
	err := utils.ReliableExec(ctx, cs.pool, StandardContextTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		page, last = nil, nil
		rows, err := conn.Query(ctx, stmt, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			vals, err := rows.Values()
			if err != nil {
				return fmt.Errorf("error in rows.Values: %w", err)
			}
			row, err := cs.decode(vals[:len(cs.cols)])
			if err != nil {
				return utils.Permanent(err)
			}
			page = append(page, row)
			last = vals[len(cs.cols):]
		}
		return rows.Err()
	})
	if err != nil {
		return err
	}
	cs.buf = page
	cs.remaining -= int64(len(page))
	if int64(len(page)) < n {
		cs.exhausted = true
	}
	if last != nil {
		cs.after = last
	}
	zerolog.Ctx(ctx).Trace().Str("scanner", cs.id).Int("rows", len(page)).Bool("exhausted", cs.exhausted).Msg("fetched scan batch")
	return nil
}

func (cs *crdbScanner) decode(vals []any) (table.Row, error) {
	row := make(table.Row, len(vals))
	for i, v := range vals {
		if ts, ok := v.(time.Time); ok {
			v = ts.UTC()
		}
		coerced, err := table.Coerce(v, cs.cols[i].Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", cs.cols[i].Name, err)
		}
		row[i] = coerced
	}
	return row, nil
}

func (cs *crdbScanner) Close() error {
	cs.closed = true
	cs.buf = nil
	return nil
}
