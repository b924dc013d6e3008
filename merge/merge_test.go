package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danthegoodman1/icescan/datastore"
	"github.com/danthegoodman1/icescan/scan"
	"github.com/danthegoodman1/icescan/table"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeScanner struct {
	id       string
	rows     []table.Row
	pos      int
	failAt   int
	endless  bool
	maxDelay time.Duration
	closed   atomic.Bool
}

func (fs *fakeScanner) ID() string   { return fs.id }
func (fs *fakeScanner) Limit() int64 { return scan.Unbounded }

func (fs *fakeScanner) Next(ctx context.Context) (table.Row, error) {
	if fs.maxDelay > 0 {
		select {
		case <-time.After(time.Duration(rand.Int63n(int64(fs.maxDelay)))):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fs.failAt >= 0 && fs.pos == fs.failAt {
		return nil, errBoom
	}
	if fs.endless {
		fs.pos++
		return table.Row{int64(fs.pos), fs.id}, nil
	}
	if fs.pos >= len(fs.rows) {
		return nil, io.EOF
	}
	row := fs.rows[fs.pos]
	fs.pos++
	return row, nil
}

func (fs *fakeScanner) Close() error {
	fs.closed.Store(true)
	return nil
}

type fakeStore struct {
	mu       sync.Mutex
	scanners map[string]*fakeScanner
	failOpen string
}

func (f *fakeStore) open(_ context.Context, s scan.Session) (datastore.Scanner, error) {
	if s.ID == f.failOpen {
		return nil, errBoom
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanners[s.ID], nil
}

func (f *fakeStore) allClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.scanners {
		if id != f.failOpen && !s.closed.Load() {
			return false
		}
	}
	return true
}

// keyed builds rows (key, session) for the given keys, already in key order.
func keyed(id string, keys ...int64) []table.Row {
	rows := make([]table.Row, len(keys))
	for i, k := range keys {
		rows[i] = table.Row{k, id}
	}
	return rows
}

func setup(sessions map[string][]table.Row) (*fakeStore, []scan.Session) {
	f := &fakeStore{scanners: make(map[string]*fakeScanner)}
	var ss []scan.Session
	for i := 0; i < len(sessions); i++ {
		id := fmt.Sprintf("s%d", i)
		f.scanners[id] = &fakeScanner{id: id, rows: sessions[id], failAt: -1, maxDelay: time.Millisecond}
		ss = append(ss, scan.Session{ID: id})
	}
	return f, ss
}

func collect(t *testing.T, it *Iterator) []table.Row {
	t.Helper()
	var out []table.Row
	for it.Next() {
		out = append(out, it.Row())
	}
	return out
}

func keys(rows []table.Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r[0].(int64)
	}
	return out
}

func TestSortedMergeGlobalOrder(t *testing.T) {
	for round := 0; round < 20; round++ {
		f, sessions := setup(map[string][]table.Row{
			"s0": keyed("s0", 1, 5, 9, 13),
			"s1": keyed("s1", 2, 6, 10),
			"s2": keyed("s2", 3, 7, 11, 14, 15),
			"s3": keyed("s3", 4, 8, 12),
		})
		plan := scan.Plan{Sessions: sessions, Sort: true, Limit: scan.Unbounded, SortKey: []int{0}, OutputWidth: 2}
		it, err := Execute(context.Background(), f.open, plan, WithBufferSize(2))
		require.NoError(t, err)
		rows := collect(t, it)
		require.NoError(t, it.Err())
		require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, keys(rows))
		require.True(t, f.allClosed())
	}
}

func TestSortedOffsetLimit(t *testing.T) {
	cases := []struct {
		offset, limit int64
		expected      []int64
	}{
		{0, scan.Unbounded, []int64{1, 2, 3, 4, 5, 6}},
		{2, scan.Unbounded, []int64{3, 4, 5, 6}},
		{2, 3, []int64{3, 4, 5}},
		{0, 0, nil},
		{5, 10, []int64{6}},
		{6, 10, nil},
		{10, 1, nil},
	}
	for _, c := range cases {
		f, sessions := setup(map[string][]table.Row{
			"s0": keyed("s0", 1, 3, 5),
			"s1": keyed("s1", 2, 4, 6),
		})
		plan := scan.Plan{Sessions: sessions, Sort: true, Limit: c.limit, Offset: c.offset, SortKey: []int{0}, OutputWidth: 2}
		it, err := Execute(context.Background(), f.open, plan)
		require.NoError(t, err)
		rows := collect(t, it)
		require.NoError(t, it.Err())
		if c.expected == nil {
			require.Empty(t, rows, "offset %d limit %d", c.offset, c.limit)
		} else {
			require.Equal(t, c.expected, keys(rows), "offset %d limit %d", c.offset, c.limit)
		}
		require.True(t, f.allClosed())
	}
}

func TestSortedDedupeOverlappingSessions(t *testing.T) {
	f, sessions := setup(map[string][]table.Row{
		"s0": keyed("s0", 1, 2, 3),
		"s1": keyed("s1", 2, 3, 4),
	})
	plan := scan.Plan{Sessions: sessions, Sort: true, Limit: 3, SortKey: []int{0}, OutputWidth: 2}
	it, err := Execute(context.Background(), f.open, plan)
	require.NoError(t, err)
	rows := collect(t, it)
	require.Equal(t, []int64{1, 2, 3}, keys(rows))
	// equal keys come out in session order
	require.Equal(t, "s0", rows[1][1])
}

func TestUnsortedFanIn(t *testing.T) {
	f, sessions := setup(map[string][]table.Row{
		"s0": keyed("s0", 1, 2, 3),
		"s1": keyed("s1", 3, 4),
		"s2": keyed("s2", 5),
	})
	plan := scan.Plan{Sessions: sessions, Limit: scan.Unbounded, SortKey: []int{0}, OutputWidth: 2}
	it, err := Execute(context.Background(), f.open, plan)
	require.NoError(t, err)
	rows := collect(t, it)
	require.NoError(t, it.Err())
	require.ElementsMatch(t, []int64{1, 2, 3, 4, 5}, keys(rows))
	require.True(t, f.allClosed())
}

func TestUnsortedDedupeNormalizesKeys(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tokyo := time.FixedZone("JST", 9*3600)
	f, sessions := setup(map[string][]table.Row{
		"s0": {{ts, []byte{0x01, 0x7c}}, {ts.Add(time.Second), []byte{0x02}}},
		"s1": {{ts.In(tokyo), []byte{0x01, 0x7c}}},
	})
	plan := scan.Plan{Sessions: sessions, Limit: scan.Unbounded, SortKey: []int{0, 1}, OutputWidth: 2}
	it, err := Execute(context.Background(), f.open, plan)
	require.NoError(t, err)
	rows := collect(t, it)
	require.NoError(t, it.Err())
	require.Len(t, rows, 2)

	require.Equal(t, keyString(table.Row{ts}, []int{0}), keyString(table.Row{ts.In(tokyo)}, []int{0}))
	require.NotEqual(t, keyString(table.Row{[]byte("1|")}, []int{0}), keyString(table.Row{"1|"}, []int{0}))
}

func TestUnsortedLimitStopsEarly(t *testing.T) {
	f := &fakeStore{scanners: map[string]*fakeScanner{
		"s0": {id: "s0", failAt: -1, endless: true},
		"s1": {id: "s1", failAt: -1, endless: true},
	}}
	plan := scan.Plan{
		Sessions:    []scan.Session{{ID: "s0"}, {ID: "s1"}},
		Limit:       10,
		OutputWidth: 2,
	}
	it, err := Execute(context.Background(), f.open, plan)
	require.NoError(t, err)
	rows := collect(t, it)
	require.Len(t, rows, 10)
	require.NoError(t, it.Err())
	require.True(t, f.allClosed())
}

func TestHiddenColumnsStripped(t *testing.T) {
	f, sessions := setup(map[string][]table.Row{
		"s0": {{"a", int64(2)}, {"b", int64(4)}},
		"s1": {{"c", int64(1)}, {"d", int64(3)}},
	})
	plan := scan.Plan{Sessions: sessions, Sort: true, Limit: scan.Unbounded, SortKey: []int{1}, OutputWidth: 1}
	it, err := Execute(context.Background(), f.open, plan)
	require.NoError(t, err)
	rows := collect(t, it)
	require.Equal(t, []table.Row{{"c"}, {"a"}, {"d"}, {"b"}}, rows)
}

func TestSessionFailureFailsSequence(t *testing.T) {
	for _, sorted := range []bool{true, false} {
		f, sessions := setup(map[string][]table.Row{
			"s0": keyed("s0", 1, 3, 5, 7, 9),
			"s1": keyed("s1", 2, 4, 6, 8, 10),
			"s2": keyed("s2", 11, 12),
		})
		f.scanners["s1"].failAt = 2
		f.scanners["s2"].endless = true
		plan := scan.Plan{Sessions: sessions, Sort: sorted, Limit: scan.Unbounded, SortKey: []int{0}, OutputWidth: 2}
		if !sorted {
			plan.SortKey = nil
		}
		it, err := Execute(context.Background(), f.open, plan)
		require.NoError(t, err)
		collect(t, it)
		require.ErrorIs(t, it.Err(), errBoom)
		require.False(t, it.Next())
		require.True(t, f.allClosed())
	}
}

func TestOpenFailureClosesOpened(t *testing.T) {
	f, sessions := setup(map[string][]table.Row{
		"s0": keyed("s0", 1),
		"s1": keyed("s1", 2),
		"s2": keyed("s2", 3),
	})
	f.failOpen = "s1"
	_, err := Execute(context.Background(), f.open, scan.Plan{Sessions: sessions, Limit: scan.Unbounded, OutputWidth: 2})
	require.ErrorIs(t, err, errBoom)
	require.True(t, f.allClosed())
}

func TestCloseStopsProducers(t *testing.T) {
	f := &fakeStore{scanners: map[string]*fakeScanner{
		"s0": {id: "s0", failAt: -1, endless: true},
		"s1": {id: "s1", failAt: -1, endless: true},
		"s2": {id: "s2", failAt: -1, endless: true},
	}}
	for _, sorted := range []bool{true, false} {
		plan := scan.Plan{
			Sessions:    []scan.Session{{ID: "s0"}, {ID: "s1"}, {ID: "s2"}},
			Sort:        sorted,
			Limit:       scan.Unbounded,
			SortKey:     []int{0, 1},
			OutputWidth: 2,
		}
		it, err := Execute(context.Background(), f.open, plan)
		require.NoError(t, err)
		require.Len(t, it.Scanners(), 3)
		require.True(t, it.Next())
		require.NoError(t, it.Close())
		require.NoError(t, it.Close())
		require.False(t, it.Next())
		// Close waits for the producers, and they close their scanners on exit
		require.True(t, f.allClosed())
		for _, s := range f.scanners {
			s.closed.Store(false)
		}
	}
}

func TestContextCancelFailsSequence(t *testing.T) {
	f := &fakeStore{scanners: map[string]*fakeScanner{
		"s0": {id: "s0", failAt: -1, endless: true, maxDelay: time.Millisecond},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	it, err := Execute(ctx, f.open, scan.Plan{Sessions: []scan.Session{{ID: "s0"}}, Limit: scan.Unbounded, OutputWidth: 2})
	require.NoError(t, err)
	require.True(t, it.Next())
	cancel()
	for it.Next() {
	}
	require.ErrorIs(t, it.Err(), context.Canceled)
	require.True(t, f.allClosed())
}

func TestNoSessions(t *testing.T) {
	for _, sorted := range []bool{true, false} {
		it, err := Execute(context.Background(), (&fakeStore{}).open, scan.Plan{Sort: sorted, Limit: scan.Unbounded})
		require.NoError(t, err)
		require.False(t, it.Next())
		require.NoError(t, it.Err())
	}
}
