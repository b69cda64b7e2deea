// Package pagination keeps the state of one table view and turns page
// requests into fetches whose results apply only while they are the newest.
package pagination

import (
	"context"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/dbrowse/internal/metrics"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// DefaultLimit is the page size when none is configured.
const DefaultLimit = 10

// Fetcher is the data source of a view.
type Fetcher interface {
	FetchPage(ctx context.Context, req core.PageRequest) (*core.PageResult, error)
	EstimateRowCount(ctx context.Context, table string) (int64, error)
	CountRows(ctx context.Context, table, filter string) (int64, error)
}

// State is the applied state of a view.
type State struct {
	Table  string
	Filter string
	Sort   string
	Offset int
	Limit  int
	Page   int
	Total  Total
	Result *core.PageResult
	// Sequence is the sequence number of the applied result.
	Sequence uint64
}

// UpdateKind tells what an Update carries.
type UpdateKind int

// Update kinds.
const (
	PageApplied UpdateKind = iota
	PageFailed
	TotalApplied
	TotalFailed
)

// Update is delivered on the Updates channel after a result was applied or a
// current request failed.
type Update struct {
	Kind     UpdateKind
	Sequence uint64
	State    State
	Err      error
}

// Options configures a Controller.
type Options struct {
	Limit   int
	Buffer  int
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type params struct {
	filter, sort  string
	offset, limit int
}

// Controller drives one table view. All methods are safe for concurrent use.
type Controller struct {
	fetcher Fetcher
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu          sync.Mutex
	state       State
	req         params
	seq         uint64
	cancel      context.CancelFunc
	totalGen    uint64
	totalCancel context.CancelFunc
	closed      bool

	// sendMu orders apply+deliver so updates arrive in application order.
	sendMu  sync.Mutex
	updates chan Update
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a controller for table. No request is issued until RequestPage
// or Refresh is called.
func New(f Fetcher, table string, opts Options) *Controller {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		fetcher: f,
		metrics: opts.Metrics,
		logger:  opts.Logger.With(slog.String("table", table)),
		state:   State{Table: table, Limit: opts.Limit, Page: 1},
		req:     params{limit: opts.Limit},
		updates: make(chan Update, opts.Buffer),
		done:    make(chan struct{}),
	}
}

// Updates returns the channel applied results and failures are delivered on.
// It is closed by Close.
func (c *Controller) Updates() <-chan Update {
	return c.updates
}

// Snapshot returns the applied state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestPage fetches the window [offset, offset+limit) with filter and sort,
// superseding any request in flight. It returns the request's sequence number.
func (c *Controller) RequestPage(ctx context.Context, offset, limit int, filter, sort string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestLocked(ctx, params{filter: filter, sort: sort, offset: max(0, offset), limit: limit})
}

// NextPage requests the page after the last requested one.
func (c *Controller) NextPage(ctx context.Context) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.req
	p.offset = NextOffset(p.offset, p.limit, c.state.Total)
	return c.requestLocked(ctx, p)
}

// PrevPage requests the page before the last requested one.
func (c *Controller) PrevPage(ctx context.Context) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.req
	p.offset = PrevOffset(p.offset, p.limit)
	return c.requestLocked(ctx, p)
}

// SetFilter applies a new filter from the first page. The total becomes
// unknown until RefreshTotal runs again.
func (c *Controller) SetFilter(ctx context.Context, filter string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.req
	p.filter, p.offset = filter, 0
	return c.requestLocked(ctx, p)
}

// SetSort applies a new sort from the first page.
func (c *Controller) SetSort(ctx context.Context, sort string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.req
	p.sort, p.offset = sort, 0
	return c.requestLocked(ctx, p)
}

// SetLimit changes the page size from the first page.
func (c *Controller) SetLimit(ctx context.Context, limit int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.req
	p.limit, p.offset = limit, 0
	return c.requestLocked(ctx, p)
}

// Refresh re-requests the last requested page.
func (c *Controller) Refresh(ctx context.Context) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestLocked(ctx, c.req)
}

// Cancel abandons the request in flight. The sequence is bumped so its result
// can never apply.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.req = params{filter: c.state.Filter, sort: c.state.Sort, offset: c.state.Offset, limit: c.state.Limit}
}

func (c *Controller) requestLocked(ctx context.Context, p params) uint64 {
	c.seq++
	seq := c.seq
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if p.limit <= 0 {
		p.limit = c.state.Limit
	}
	if p.filter != c.req.filter {
		c.resetTotalLocked()
	}
	c.req = p
	if c.closed {
		return seq
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	req := core.PageRequest{
		Table:    c.state.Table,
		Filter:   p.filter,
		Sort:     p.sort,
		Offset:   p.offset,
		Limit:    p.limit,
		Sequence: seq,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		res, err := c.fetcher.FetchPage(fetchCtx, req)
		c.completePage(req, p, res, err)
	}()
	return seq
}

// completePage applies a page result if it is still the newest request.
func (c *Controller) completePage(req core.PageRequest, p params, res *core.PageResult, err error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if req.Sequence != c.seq {
		c.mu.Unlock()
		c.metrics.StaleDiscarded()
		c.logger.Debug("discarding stale page result",
			slog.Uint64("sequence", req.Sequence),
			slog.Uint64("current", c.seq))
		return
	}
	c.cancel = nil

	var u Update
	if err != nil {
		// A failed fetch leaves the view as it was; page turns continue from there.
		c.req = params{filter: c.state.Filter, sort: c.state.Sort, offset: c.state.Offset, limit: c.state.Limit}
		u = Update{Kind: PageFailed, Sequence: req.Sequence, State: c.state, Err: err}
	} else {
		res.Sequence = req.Sequence
		c.state.Filter = p.filter
		c.state.Sort = p.sort
		c.state.Offset = p.offset
		c.state.Limit = p.limit
		c.state.Page = PageNumber(p.offset, p.limit)
		c.state.Result = res
		c.state.Sequence = req.Sequence
		u = Update{Kind: PageApplied, Sequence: req.Sequence, State: c.state}
	}
	c.mu.Unlock()

	c.deliver(u)
}

// RefreshTotal fetches the total for the requested filter. With exact it
// counts matching rows; otherwise an unfiltered view uses the engine estimate
// and a filtered view reports an unknown total. A newer RefreshTotal or a
// filter change discards the result.
func (c *Controller) RefreshTotal(ctx context.Context, exact bool) {
	c.mu.Lock()
	c.totalGen++
	gen := c.totalGen
	if c.totalCancel != nil {
		c.totalCancel()
		c.totalCancel = nil
	}
	filter := c.req.filter
	table := c.state.Table
	if c.closed {
		c.mu.Unlock()
		return
	}
	totalCtx, cancel := context.WithCancel(ctx)
	c.totalCancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer cancel()

		var (
			total Total
			err   error
		)
		switch {
		case exact:
			total.Value, err = c.fetcher.CountRows(totalCtx, table, filter)
			total.Known, total.Exact = err == nil, err == nil
		case filter == "":
			total.Value, err = c.fetcher.EstimateRowCount(totalCtx, table)
			total.Known = err == nil && total.Value >= 0
		}
		c.completeTotal(gen, total, err)
	}()
}

func (c *Controller) completeTotal(gen uint64, total Total, err error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if gen != c.totalGen {
		c.mu.Unlock()
		c.logger.Debug("discarding stale total", slog.Uint64("generation", gen))
		return
	}
	c.totalCancel = nil
	var u Update
	if err != nil {
		u = Update{Kind: TotalFailed, State: c.state, Err: err}
	} else {
		c.state.Total = total
		u = Update{Kind: TotalApplied, State: c.state}
	}
	c.mu.Unlock()

	c.deliver(u)
}

// resetTotalLocked forgets the total and invalidates any count in flight.
func (c *Controller) resetTotalLocked() {
	c.state.Total = Total{}
	c.totalGen++
	if c.totalCancel != nil {
		c.totalCancel()
		c.totalCancel = nil
	}
}

func (c *Controller) deliver(u Update) {
	select {
	case c.updates <- u:
	case <-c.done:
	}
}

// Close cancels all work, waits for workers to finish and closes Updates.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.seq++
	c.totalGen++
	if c.cancel != nil {
		c.cancel()
	}
	if c.totalCancel != nil {
		c.totalCancel()
	}
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
	close(c.updates)
}
