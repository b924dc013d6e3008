package datastore

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/danthegoodman1/icescan/gologger"
	"github.com/danthegoodman1/icescan/part"
	"github.com/danthegoodman1/icescan/predicate"
	"github.com/danthegoodman1/icescan/table"
)

// Unbounded is the scan limit meaning "no limit".
const Unbounded int64 = math.MaxInt64

var (
	logger = gologger.NewLogger()

	ErrTableNotFound = errors.New("table not found")
	ErrTableExists   = errors.New("table already exists")
	ErrScannerClosed = errors.New("scanner closed")
)

type (
	// Table is an opened table handle.
	Table struct {
		ID      string
		Name    string
		Schema  table.Schema
		Options part.TableOptions
	}

	// ScanSpec describes one storage scan. Columns are schema positions; rows
	// come back in that order. Limit caps the rows returned; Unbounded means none.
	ScanSpec struct {
		ID         string
		Predicates predicate.Conjunction
		Columns    []int
		Limit      int64
	}

	// Scanner streams rows in primary key order. Next returns io.EOF once
	// exhausted. Close must be called even after io.EOF.
	Scanner interface {
		ID() string
		Limit() int64
		Next(ctx context.Context) (table.Row, error)
		Close() error
	}

	DataStore interface {
		TableExists(ctx context.Context, name string) (bool, error)
		OpenTable(ctx context.Context, name string) (Table, error)
		CreateTable(ctx context.Context, name string, schema table.Schema, opts part.TableOptions) error
		OpenScan(ctx context.Context, tbl Table, spec ScanSpec) (Scanner, error)

		// Upsert writes full schema rows, replacing rows with the same key
		Upsert(ctx context.Context, name string, rows []table.Row) error
		// AddRangePartition adds a bound to the table's range partitioning
		AddRangePartition(ctx context.Context, name string, bound part.RangeBound) error

		Shutdown(ctx context.Context) error
	}

	// StorageError wraps every failure that comes out of a storage engine
	// client. It is never retried by the query layer.
	StorageError struct {
		Op    string
		Table string
		Err   error
	}
)

func (e *StorageError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("storage engine failure in %s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("storage engine failure in %s on %s: %s", e.Op, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Wrap returns err as a *StorageError unless it already is one.
func Wrap(op, tableName string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Table: tableName, Err: err}
}

// IsStorageError reports whether err came from the storage engine client.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ValidateSpec checks a scan spec against the table before it is opened.
func ValidateSpec(tbl Table, spec ScanSpec) error {
	if err := spec.Predicates.Validate(tbl.Schema); err != nil {
		return err
	}
	for _, c := range spec.Columns {
		if c < 0 || c >= tbl.Schema.Len() {
			return fmt.Errorf("%w: projected column %d out of range", table.ErrColumnNotFound, c)
		}
	}
	if spec.Limit < 0 {
		return fmt.Errorf("negative scan limit %d", spec.Limit)
	}
	return nil
}
