package partitioner

import (
	"testing"
	"time"

	"github.com/danthegoodman1/icescan/part"
	"github.com/danthegoodman1/icescan/table"
	"github.com/stretchr/testify/require"
)

func TestToDay(t *testing.T) {
	f := Functions["toDay"]

	lower, upper := f(time.Date(2022, 1, 24, 13, 5, 0, 0, time.UTC))
	require.True(t, lower.Equal(time.Date(2022, 1, 24, 0, 0, 0, 0, time.UTC)), lower)
	require.True(t, upper.Equal(time.Date(2022, 1, 25, 0, 0, 0, 0, time.UTC)), upper)

	lower, upper = Functions["toMonth"](time.Date(2022, 12, 30, 0, 0, 0, 0, time.UTC))
	require.Equal(t, time.December, lower.Month())
	require.Equal(t, 2023, upper.Year())
	require.Equal(t, time.January, upper.Month())
}

func TestRangeBoundFor(t *testing.T) {
	b, err := RangeBoundFor("ts", "toHour", time.Date(2022, 1, 24, 13, 5, 0, 0, time.UTC))
	require.NoError(t, err)
	lower, _ := b.Lower.Get("ts")
	require.True(t, lower.(time.Time).Equal(time.Date(2022, 1, 24, 13, 0, 0, 0, time.UTC)), lower)

	_, err = RangeBoundFor("ts", "toFortnight", time.Now())
	require.ErrorIs(t, err, ErrFuncNotFound)
}

func TestGetRowPartition(t *testing.T) {
	schema := table.NewSchema(
		table.Column{Name: "account", Type: table.TypeString, Key: true},
		table.Column{Name: "ts", Type: table.TypeTimestamp, Key: true},
		table.Column{Name: "amount", Type: table.TypeInt64, Nullable: true},
	)
	day := time.Date(2022, 1, 24, 0, 0, 0, 0, time.UTC)
	bound, err := RangeBoundFor("ts", "toDay", day)
	require.NoError(t, err)
	spec := part.Spec{
		Hash:  &part.HashPartition{Columns: []string{"account"}, Buckets: 4},
		Range: &part.RangePartition{Columns: []string{"ts"}, Bounds: []part.RangeBound{bound}},
	}

	p1, err := GetRowPartition(schema, spec, table.Row{"AC1", day.Add(time.Hour), int64(5)})
	require.NoError(t, err)
	p2, err := GetRowPartition(schema, spec, table.Row{"AC1", day.Add(2 * time.Hour), int64(7)})
	require.NoError(t, err)
	// same hash key and range share a partition
	require.Equal(t, p1, p2)

	_, err = GetRowPartition(schema, spec, table.Row{"AC1", day.AddDate(0, 0, 2), int64(5)})
	require.ErrorIs(t, err, ErrNoRangePartition)
}
