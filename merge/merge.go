package merge

import (
	"container/heap"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danthegoodman1/icescan/datastore"
	"github.com/danthegoodman1/icescan/gologger"
	"github.com/danthegoodman1/icescan/scan"
	"github.com/danthegoodman1/icescan/table"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultBufferSize = 64

var (
	logger = gologger.NewLogger()
)

type (
	// OpenFunc opens the storage scan for one session.
	OpenFunc func(ctx context.Context, session scan.Session) (datastore.Scanner, error)

	Option func(*config)

	config struct {
		bufferSize int
		logger     zerolog.Logger
	}

	// Iterator is the merged row sequence of a plan. It is single pass and
	// not safe for concurrent use.
	Iterator struct {
		plan     scan.Plan
		logger   zerolog.Logger
		ctx      context.Context
		cancel   context.CancelFunc
		g        *errgroup.Group
		gctx     context.Context
		scanners []datastore.Scanner

		// sorted mode: one channel per session
		sessions []chan table.Row
		pending  *rowHeap
		primed   bool

		// unsorted mode: shared channel, closed once every producer is done
		rows chan table.Row

		dedupe bool
		prev   table.Row
		seen   map[string]struct{}

		row       table.Row
		skipped   int64
		yielded   int64
		err       error
		done      bool
		closeOnce sync.Once
	}
)

func WithBufferSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// Execute opens every session of the plan and starts streaming their rows.
// With plan.Sort the output is in primary key order; otherwise rows come in
// arrival order. If any session fails to open, the scanners already opened
// are closed and the error is returned.
func Execute(ctx context.Context, open OpenFunc, plan scan.Plan, opts ...Option) (*Iterator, error) {
	cfg := config{
		bufferSize: DefaultBufferSize,
		logger:     logger,
	}
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		cfg.logger = *l
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(ctx)
	scanners, err := openAll(ctx, cancel, open, plan.Sessions)
	if err != nil {
		cancel()
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	it := &Iterator{
		plan:     plan,
		logger:   cfg.logger,
		ctx:      ctx,
		cancel:   cancel,
		g:        g,
		gctx:     gctx,
		scanners: scanners,
		dedupe:   len(plan.Sessions) > 1 && len(plan.SortKey) > 0,
	}

	if plan.Sort {
		it.pending = &rowHeap{key: plan.SortKey, items: make([]heapItem, 0, len(scanners))}
		it.sessions = make([]chan table.Row, len(scanners))
		for i, sc := range scanners {
			ch := make(chan table.Row, cfg.bufferSize)
			it.sessions[i] = ch
			it.produce(sc, ch, true)
		}
	} else {
		it.rows = make(chan table.Row, cfg.bufferSize)
		if it.dedupe {
			it.seen = make(map[string]struct{})
		}
		for _, sc := range scanners {
			it.produce(sc, it.rows, false)
		}
		go func() {
			// Wait happens before the close, so the consumer sees every row
			_ = it.g.Wait()
			close(it.rows)
		}()
	}

	it.logger.Debug().Int("sessions", len(scanners)).Bool("sort", plan.Sort).Int64("limit", plan.Limit).Int64("offset", plan.Offset).Msg("merge started")
	return it, nil
}

func openAll(ctx context.Context, cancel context.CancelFunc, open OpenFunc, sessions []scan.Session) ([]datastore.Scanner, error) {
	scanners := make([]datastore.Scanner, len(sessions))
	var og errgroup.Group
	for i, s := range sessions {
		i, s := i, s
		og.Go(func() error {
			sc, err := open(ctx, s)
			if err != nil {
				// stop the other opens early
				cancel()
				return fmt.Errorf("error opening scan session %s: %w", s.ID, err)
			}
			scanners[i] = sc
			return nil
		})
	}
	if err := og.Wait(); err != nil {
		for _, sc := range scanners {
			if sc != nil {
				_ = sc.Close()
			}
		}
		return nil, err
	}
	return scanners, nil
}

// produce forwards scanner rows into ch until EOF, failure or cancellation.
// A failing producer leaves ch open so a failure is never read as EOF.
func (it *Iterator) produce(sc datastore.Scanner, ch chan table.Row, closeOnEOF bool) {
	it.g.Go(func() error {
		defer func() {
			if err := sc.Close(); err != nil {
				it.logger.Warn().Err(err).Str("scanner", sc.ID()).Msg("error closing scanner")
			}
		}()
		for {
			row, err := sc.Next(it.gctx)
			if errors.Is(err, io.EOF) {
				if closeOnEOF {
					close(ch)
				}
				return nil
			}
			if err != nil {
				return fmt.Errorf("error in scan session %s: %w", sc.ID(), err)
			}
			select {
			case ch <- row:
			case <-it.gctx.Done():
				return it.gctx.Err()
			}
		}
	})
}

// Next advances to the next row. It returns false at the end of the
// sequence, once the limit is reached, or on failure (see Err).
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	for {
		if it.plan.Limit != scan.Unbounded && it.yielded >= it.plan.Limit {
			it.finish(nil)
			return false
		}
		row, ok, err := it.pull()
		if err != nil {
			it.finish(err)
			return false
		}
		if !ok {
			it.finish(nil)
			return false
		}
		if it.duplicate(row) {
			continue
		}
		if it.skipped < it.plan.Offset {
			it.skipped++
			continue
		}
		w := it.plan.OutputWidth
		it.row = row[:w:w]
		it.yielded++
		return true
	}
}

// Row is the current row, without hidden key columns.
func (it *Iterator) Row() table.Row {
	return it.row
}

// Err is the failure that ended the sequence, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Scanners are the opened storage scanners in session order.
func (it *Iterator) Scanners() []datastore.Scanner {
	return it.scanners
}

// Close stops every producer and waits for them to exit. Safe to call more
// than once.
func (it *Iterator) Close() error {
	it.closeOnce.Do(func() {
		it.done = true
		it.cancel()
		_ = it.g.Wait()
		it.logger.Debug().Int64("rows", it.yielded).Err(it.err).Msg("merge closed")
	})
	return nil
}

func (it *Iterator) finish(err error) {
	it.err = err
	_ = it.Close()
}

func (it *Iterator) pull() (table.Row, bool, error) {
	if it.plan.Sort {
		return it.pullSorted()
	}
	select {
	case row, ok := <-it.rows:
		if !ok {
			// closed after Wait, which also returns any failure
			return nil, false, it.interrupted()
		}
		return row, true, nil
	case <-it.gctx.Done():
		if err := it.interrupted(); err != nil {
			return nil, false, err
		}
		// every producer finished cleanly, drain what is buffered
		row, ok := <-it.rows
		return row, ok, nil
	}
}

func (it *Iterator) pullSorted() (table.Row, bool, error) {
	if !it.primed {
		for i := range it.sessions {
			if err := it.refill(i); err != nil {
				return nil, false, err
			}
		}
		heap.Init(it.pending)
		it.primed = true
	}
	if it.pending.Len() == 0 {
		return nil, false, nil
	}
	item := heap.Pop(it.pending).(heapItem)
	if err := it.refill(item.session); err != nil {
		return nil, false, err
	}
	return item.row, true, nil
}

// refill pushes the next row of session i, if it has one.
func (it *Iterator) refill(i int) error {
	var row table.Row
	var ok bool
	select {
	case row, ok = <-it.sessions[i]:
	case <-it.gctx.Done():
		if err := it.interrupted(); err != nil {
			return err
		}
		row, ok = <-it.sessions[i]
	}
	if ok {
		heap.Push(it.pending, heapItem{row: row, session: i})
	}
	return nil
}

// interrupted reports why the producers stopped: a session failure, or the
// caller's context.
func (it *Iterator) interrupted() error {
	if err := it.g.Wait(); err != nil {
		return err
	}
	return it.ctx.Err()
}

// duplicate drops rows whose key was already seen, which happens when
// disjuncts overlap.
func (it *Iterator) duplicate(row table.Row) bool {
	if !it.dedupe {
		return false
	}
	if it.plan.Sort {
		dup := it.prev != nil && table.CompareKeys(it.prev, row, it.plan.SortKey) == 0
		it.prev = row
		return dup
	}
	k := keyString(row, it.plan.SortKey)
	if _, ok := it.seen[k]; ok {
		return true
	}
	it.seen[k] = struct{}{}
	return false
}

func keyString(row table.Row, key []int) string {
	var b strings.Builder
	for _, p := range key {
		var s string
		switch v := row[p].(type) {
		case nil:
			b.WriteString("n|")
			continue
		case time.Time:
			s = strconv.FormatInt(v.UnixMicro(), 10)
		case []byte:
			s = hex.EncodeToString(v)
		default:
			s = fmt.Sprint(v)
		}
		fmt.Fprintf(&b, "%d:%s|", len(s), s)
	}
	return b.String()
}
