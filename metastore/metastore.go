package metastore

import (
	"context"

	"github.com/danthegoodman1/icescan/datastore"
	"github.com/danthegoodman1/icescan/gologger"
)

var (
	logger = gologger.NewLogger()
)

type (
	// MetaStore resolves table names to opened table handles. DDL must
	// invalidate the names it touches so the next lookup sees the change.
	MetaStore interface {
		// GetTable fetches the table handle, opening it from the data store on miss
		GetTable(ctx context.Context, name string) (datastore.Table, error)

		// Invalidate drops a single cached table
		Invalidate(name string)
		InvalidateAll()
	}
)
