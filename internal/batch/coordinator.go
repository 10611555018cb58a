// Package batch coalesces many concurrent single-id reads into few
// multi-id fetches.
//
// A Coordinator collects requests until no new one has arrived for the
// initial window, then issues one fetch for the whole pending set.
// Requests that arrive while that fetch is in flight form the next set,
// which is issued after the fetch settles and a shorter rolling window
// has passed. At most one fetch is ever in flight.
package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/excerpt/internal/clock"
	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/errors"
	"github.com/conneroisu/excerpt/internal/logging"
)

// Default timing.
const (
	DefaultInitialWindow = 500 * time.Millisecond
	DefaultRollingWindow = 100 * time.Millisecond
	DefaultTimeout       = 30 * time.Second
)

// Result is the outcome for one id of a fetch.
type Result struct {
	Content *doctree.Node
	Err     error
}

// Fetcher fetches several ids in one call. A returned error is a
// transport failure for every id; per-id failures go in Result.Err. Ids
// missing from the map are reported as not found.
type Fetcher interface {
	FetchMany(ctx context.Context, ids []string) (map[string]Result, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, ids []string) (map[string]Result, error)

// FetchMany calls f.
func (f FetcherFunc) FetchMany(ctx context.Context, ids []string) (map[string]Result, error) {
	return f(ctx, ids)
}

// Options configures a Coordinator.
type Options struct {
	InitialWindow time.Duration
	RollingWindow time.Duration
	// Timeout bounds each fetch
	Timeout time.Duration
	Clock   clock.Clock
	Logger  logging.Logger
}

// Stats counts coordinator activity.
type Stats struct {
	Requests int64 `json:"requests"`
	Batches  int64 `json:"batches"`
	IDs      int64 `json:"ids"`
	Failures int64 `json:"failures"`
}

// Coordinator is the process-wide batching point. Construct one and
// share it between callers.
type Coordinator struct {
	fetcher Fetcher
	initial time.Duration
	rolling time.Duration
	timeout time.Duration
	clock   clock.Clock
	logger  logging.Logger

	mu       sync.Mutex
	pending  map[string][]chan Result
	order    []string
	timer    clock.Timer
	window   time.Duration
	inFlight bool
	closed   bool

	requests int64
	batches  int64
	ids      int64
	failures int64
}

// New creates a Coordinator over fetcher. Zero options take defaults.
func New(fetcher Fetcher, opts Options) *Coordinator {
	if opts.InitialWindow <= 0 {
		opts.InitialWindow = DefaultInitialWindow
	}
	if opts.RollingWindow <= 0 {
		opts.RollingWindow = DefaultRollingWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Coordinator{
		fetcher: fetcher,
		initial: opts.InitialWindow,
		rolling: opts.RollingWindow,
		timeout: opts.Timeout,
		clock:   opts.Clock,
		logger:  opts.Logger.WithComponent("batch"),
		pending: make(map[string][]chan Result),
		window:  opts.InitialWindow,
	}
}

// Get waits for the content of id from the next batch. Cancelling ctx
// abandons the wait; a fetch already issued still runs to completion.
func (c *Coordinator) Get(ctx context.Context, id string) (*doctree.Node, error) {
	ch := make(chan Result, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.ErrClosed
	}
	if _, ok := c.pending[id]; !ok {
		c.order = append(c.order, id)
	}
	c.pending[id] = append(c.pending[id], ch)
	atomic.AddInt64(&c.requests, 1)
	if !c.inFlight {
		c.armLocked()
	}
	c.mu.Unlock()

	select {
	case res := <-ch:
		return res.Content, res.Err
	case <-ctx.Done():
		c.abandon(id, ch)
		return nil, ctx.Err()
	}
}

// armLocked (re)starts the debounce timer with the current window.
func (c *Coordinator) armLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clock.AfterFunc(c.window, c.fire)
}

// abandon removes a waiter that is still pending.
func (c *Coordinator) abandon(id string, ch chan Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	waiters := c.pending[id]
	for i, w := range waiters {
		if w != ch {
			continue
		}
		waiters = append(waiters[:i], waiters[i+1:]...)
		break
	}
	if len(waiters) > 0 {
		c.pending[id] = waiters
		return
	}
	if _, ok := c.pending[id]; !ok {
		return
	}
	delete(c.pending, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if len(c.pending) == 0 && c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// fire snapshots and clears the pending set and issues its fetch.
func (c *Coordinator) fire() {
	c.mu.Lock()
	if c.closed || c.inFlight || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	waiters, ids := c.pending, c.order
	c.pending = make(map[string][]chan Result)
	c.order = nil
	c.timer = nil
	c.inFlight = true
	c.mu.Unlock()

	go c.run(ids, waiters)
}

func (c *Coordinator) run(ids []string, waiters map[string][]chan Result) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	atomic.AddInt64(&c.batches, 1)
	atomic.AddInt64(&c.ids, int64(len(ids)))
	perf := logging.StartOperation(c.logger, "batch_fetch")

	results, err := c.fetcher.FetchMany(ctx, ids)
	if err != nil {
		atomic.AddInt64(&c.failures, 1)
		perf.EndWithError(ctx, err, "ids", len(ids))
		if !errors.IsTransport(err) {
			err = errors.NewTransportError("batch fetch failed", err)
		}
		for _, chans := range waiters {
			deliver(chans, Result{Err: err})
		}
	} else {
		perf.End(ctx, "ids", len(ids))
		for id, chans := range waiters {
			res, ok := results[id]
			if !ok {
				res = Result{Err: errors.NewNotFoundError(errors.ErrCodeBatchItem,
					fmt.Sprintf("no result for %q", id)).WithID(id)}
			}
			deliver(chans, res)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	if c.closed {
		return
	}
	if len(c.pending) > 0 {
		c.window = c.rolling
		c.armLocked()
		return
	}
	c.window = c.initial
}

func deliver(chans []chan Result, res Result) {
	for _, ch := range chans {
		select {
		case ch <- res:
		default:
		}
	}
}

// Pending returns the number of distinct ids waiting for the next batch.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// InFlight reports whether a fetch is running.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Stats returns the activity counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Requests: atomic.LoadInt64(&c.requests),
		Batches:  atomic.LoadInt64(&c.batches),
		IDs:      atomic.LoadInt64(&c.ids),
		Failures: atomic.LoadInt64(&c.failures),
	}
}

// Close stops the timer and fails every pending request with
// ErrClosed. A fetch in flight still delivers to its own waiters.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	waiters := c.pending
	c.pending = make(map[string][]chan Result)
	c.order = nil
	c.mu.Unlock()

	for _, chans := range waiters {
		deliver(chans, Result{Err: errors.ErrClosed})
	}
}
