package scan

import (
	"errors"
	"testing"

	"github.com/danthegoodman1/icescan/predicate"
	"github.com/danthegoodman1/icescan/table"
	"github.com/danthegoodman1/icescan/utils"
	"github.com/stretchr/testify/require"
)

func testSchema() table.Schema {
	return table.NewSchema(
		table.Column{Name: "account", Type: table.TypeString, Key: true},
		table.Column{Name: "seq", Type: table.TypeInt64, Key: true},
		table.Column{Name: "amount", Type: table.TypeInt64, Nullable: true},
	)
}

func disjuncts(n int) predicate.Set {
	set := make(predicate.Set, n)
	for i := range set {
		set[i] = predicate.Conjunction{predicate.New(1, predicate.Equal, int64(i))}
	}
	return set
}

func TestPushdownMatrix(t *testing.T) {
	cases := []struct {
		name     string
		sort     bool
		limit    *int64
		offset   *int64
		effSort  bool
		rowLimit int64
	}{
		{"nothing", false, nil, nil, false, Unbounded},
		{"limit unsorted", false, utils.Ptr[int64](10), nil, false, Unbounded},
		{"limit sorted", true, utils.Ptr[int64](10), nil, true, 10},
		{"offset forces sort", false, nil, utils.Ptr[int64](5), true, Unbounded},
		{"limit with offset", false, utils.Ptr[int64](10), utils.Ptr[int64](5), true, Unbounded},
		{"sorted limit with offset", true, utils.Ptr[int64](10), utils.Ptr[int64](5), true, Unbounded},
		{"zero offset is set", true, utils.Ptr[int64](10), utils.Ptr[int64](0), true, Unbounded},
		{"sorted no limit", true, nil, nil, true, Unbounded},
		{"zero limit", true, utils.Ptr[int64](0), nil, true, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			plan, err := Compile(testSchema(), Request{
				Predicates: disjuncts(3),
				Projection: []int{2},
				Limit:      c.limit,
				Offset:     c.offset,
				Sort:       c.sort,
			})
			require.NoError(t, err)
			require.Equal(t, c.effSort, plan.Sort)
			require.Len(t, plan.Sessions, 3)
			for _, s := range plan.Sessions {
				require.Equal(t, c.rowLimit, s.RowLimit)
				require.Equal(t, c.rowLimit, s.Spec().Limit)
			}
			require.Equal(t, utils.Deref(c.limit, Unbounded), plan.Limit)
			require.Equal(t, utils.Deref(c.offset, 0), plan.Offset)
		})
	}
}

func TestSessionPerDisjunct(t *testing.T) {
	for _, n := range []int{0, 1, 2, 7} {
		plan, err := Compile(testSchema(), Request{Predicates: disjuncts(n), Projection: []int{0, 2}})
		require.NoError(t, err)
		require.Len(t, plan.Sessions, n)
		ids := make(map[string]bool)
		for i, s := range plan.Sessions {
			require.Equal(t, []int{0, 2}, s.Projection)
			require.Equal(t, disjuncts(n)[i], s.Predicates)
			require.False(t, ids[s.ID], "duplicate session id")
			ids[s.ID] = true
		}
	}

	plan, err := Compile(testSchema(), Request{Predicates: predicate.All(), Projection: []int{2}})
	require.NoError(t, err)
	require.Len(t, plan.Sessions, 1)
	require.Empty(t, plan.Sessions[0].Predicates)
}

func TestHiddenKeyColumns(t *testing.T) {
	// single unsorted session needs no key
	plan, err := Compile(testSchema(), Request{Predicates: predicate.All(), Projection: []int{2}})
	require.NoError(t, err)
	require.Empty(t, plan.SortKey)
	require.Equal(t, []int{2}, plan.Sessions[0].ScanColumns)
	require.Equal(t, 0, plan.Hidden())

	// sorted: seq is projected, account is appended
	plan, err = Compile(testSchema(), Request{Predicates: predicate.All(), Projection: []int{2, 1}, Sort: true})
	require.NoError(t, err)
	require.Equal(t, []int{2, 1, 0}, plan.Sessions[0].ScanColumns)
	require.Equal(t, []int{2, 1}, plan.SortKey)
	require.Equal(t, 2, plan.OutputWidth)
	require.Equal(t, 1, plan.Hidden())

	// several sessions need the key for de-duplication even unsorted
	plan, err = Compile(testSchema(), Request{Predicates: disjuncts(2), Projection: []int{0, 1}})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, plan.SortKey)
	require.Equal(t, 0, plan.Hidden())
}

func TestCompileInvalid(t *testing.T) {
	_, err := Compile(testSchema(), Request{Predicates: predicate.All(), Projection: []int{3}})
	require.True(t, errors.Is(err, ErrInvalidRequest))
	_, err = Compile(testSchema(), Request{Predicates: predicate.All(), Limit: utils.Ptr[int64](-1)})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = Compile(testSchema(), Request{Predicates: predicate.All(), Offset: utils.Ptr[int64](-1)})
	require.ErrorIs(t, err, ErrInvalidRequest)
}
