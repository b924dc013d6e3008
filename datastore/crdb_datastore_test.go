package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/danthegoodman1/icescan/predicate"
	"github.com/stretchr/testify/require"
)

func TestCreateTableSQL(t *testing.T) {
	got := createTableSQL("ReportCenter.Txns", testSchema())
	require.Equal(t, `CREATE TABLE "ReportCenter.Txns" ("account" TEXT NOT NULL, "ts" TIMESTAMPTZ NOT NULL, "amount" BIGINT, PRIMARY KEY ("account", "ts"))`, got)
}

func TestUpsertSQL(t *testing.T) {
	got := upsertSQL("txns", testSchema())
	require.Equal(t, `INSERT INTO "txns" ("account", "ts", "amount") VALUES ($1, $2, $3) ON CONFLICT ("account", "ts") DO UPDATE SET "amount" = excluded."amount"`, got)
}

func TestPageSQL(t *testing.T) {
	tbl := Table{Name: "txns", Schema: testSchema()}
	ts := time.Date(2022, 1, 24, 0, 0, 0, 0, time.UTC)
	spec := ScanSpec{
		Predicates: predicate.Conjunction{
			predicate.New(0, predicate.Equal, "AC1"),
			predicate.New(1, predicate.Less, ts),
		},
		Columns: []int{2},
		Limit:   Unbounded,
	}

	stmt, args := pageSQL(tbl, spec, nil, 1000)
	require.Equal(t, `SELECT "amount", "account", "ts" FROM "txns" WHERE "account" = $1 AND "ts" < $2 ORDER BY "account", "ts" LIMIT 1000`, stmt)
	require.Equal(t, []any{"AC1", ts}, args)

	// later batches resume after the last key read
	last := ts.Add(-time.Hour)
	stmt, args = pageSQL(tbl, spec, []any{"AC1", last}, 1000)
	require.Equal(t, `SELECT "amount", "account", "ts" FROM "txns" WHERE "account" = $1 AND "ts" < $2 AND ("account", "ts") > ($3, $4) ORDER BY "account", "ts" LIMIT 1000`, stmt)
	require.Equal(t, []any{"AC1", ts, "AC1", last}, args)

	// no predicates and a remaining limit below the batch size
	stmt, args = pageSQL(tbl, ScanSpec{Columns: []int{0}, Limit: 5}, []any{"AC0", ts}, 3)
	require.Equal(t, `SELECT "account", "account", "ts" FROM "txns" WHERE ("account", "ts") > ($1, $2) ORDER BY "account", "ts" LIMIT 3`, stmt)
	require.Len(t, args, 2)

	// key-only scans still page on the key
	stmt, _ = pageSQL(tbl, ScanSpec{Limit: Unbounded}, nil, 10)
	require.Equal(t, `SELECT "account", "ts" FROM "txns" ORDER BY "account", "ts" LIMIT 10`, stmt)
}

func TestCRDBScannerExhaustedWithoutQuery(t *testing.T) {
	// a zero limit never touches the pool
	cs := &crdbScanner{id: "scn", batchSize: DefaultScanBatchSize, remaining: 0}
	require.NoError(t, cs.fetch(context.Background()))
	require.True(t, cs.exhausted)
	require.Empty(t, cs.buf)
	require.NoError(t, cs.Close())
}
