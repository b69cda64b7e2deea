// Package browse is the entry point for callers: every operation takes an
// explicit connection profile and runs through the connection manager and
// the executor.
package browse

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/dbrowse/internal/connection"
	"github.com/leapstack-labs/dbrowse/internal/executor"
	"github.com/leapstack-labs/dbrowse/internal/metrics"
	"github.com/leapstack-labs/dbrowse/internal/pagination"
	"github.com/leapstack-labs/dbrowse/internal/schema"
	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// Operation names used for metrics and logs.
const (
	OpFetchPage  = "fetch_page"
	OpRawQuery   = "raw_query"
	OpEstimate   = "estimate_row_count"
	OpCountRows  = "count_rows"
	OpListTables = schema.OpListTables
	OpDescribe   = schema.OpDescribeTable
)

// Options configures a Service.
type Options struct {
	Connections *connection.Manager
	Executor    *executor.Executor

	// PageSize is used when a fetch asks for a non-positive limit.
	PageSize int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Service exposes browsing operations over any registered engine.
type Service struct {
	conns     *connection.Manager
	exec      *executor.Executor
	inspector *schema.Inspector
	pageSize  int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a Service. Missing collaborators are built with defaults.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Connections == nil {
		opts.Connections = connection.NewManager(connection.Options{Metrics: opts.Metrics, Logger: opts.Logger})
	}
	if opts.Executor == nil {
		opts.Executor = executor.New(executor.DefaultTimeout, opts.Metrics, opts.Logger)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = pagination.DefaultLimit
	}
	return &Service{
		conns:     opts.Connections,
		exec:      opts.Executor,
		inspector: schema.New(opts.Executor),
		pageSize:  opts.PageSize,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
}

// Connections returns the connection manager.
func (s *Service) Connections() *connection.Manager {
	return s.conns
}

// Close closes every live connection.
func (s *Service) Close() error {
	return s.conns.CloseAll()
}

// ListTables lists the tables or collections of p.
func (s *Service) ListTables(ctx context.Context, p core.ConnectionProfile) ([]core.TableDescriptor, error) {
	conn, err := s.conns.Acquire(ctx, p)
	if err != nil {
		return nil, err
	}
	tables, err := s.inspector.ListTables(ctx, conn)
	s.conns.Report(conn, err)
	return tables, err
}

// DescribeTable returns the columns and indexes of table.
func (s *Service) DescribeTable(ctx context.Context, p core.ConnectionProfile, table string) (*core.TableSchema, error) {
	conn, err := s.conns.Acquire(ctx, p)
	if err != nil {
		return nil, err
	}
	desc, err := s.inspector.DescribeTable(ctx, conn, table)
	s.conns.Report(conn, err)
	return desc, err
}

// FetchPage returns one window of table. A non-positive limit uses the
// configured page size.
func (s *Service) FetchPage(ctx context.Context, p core.ConnectionProfile, table, filter, sort string, offset, limit int) (*core.PageResult, error) {
	if limit <= 0 {
		limit = s.pageSize
	}
	return s.fetch(ctx, p, core.PageRequest{
		Table:  table,
		Filter: filter,
		Sort:   sort,
		Offset: offset,
		Limit:  limit,
	})
}

func (s *Service) fetch(ctx context.Context, p core.ConnectionProfile, req core.PageRequest) (*core.PageResult, error) {
	if err := adapter.ValidatePageRequest(req); err != nil {
		return nil, err
	}
	return runPage(ctx, s, p, OpFetchPage, req.Sequence,
		func(ctx context.Context, a adapter.Adapter) (*core.PageResult, error) {
			return a.FetchPage(ctx, req)
		})
}

// ExecuteRawQuery runs text in the engine's own query language. Empty text is
// rejected without contacting the engine.
func (s *Service) ExecuteRawQuery(ctx context.Context, p core.ConnectionProfile, text string) (*core.PageResult, error) {
	if err := adapter.ValidateRawQuery(text); err != nil {
		return nil, err
	}
	return runPage(ctx, s, p, OpRawQuery, 0,
		func(ctx context.Context, a adapter.Adapter) (*core.PageResult, error) {
			return a.ExecuteRawQuery(ctx, text)
		})
}

// EstimateRowCount returns the engine's cheap row estimate for table, or -1
// when the engine has none.
func (s *Service) EstimateRowCount(ctx context.Context, p core.ConnectionProfile, table string) (int64, error) {
	return run(ctx, s, p, OpEstimate, func(ctx context.Context, a adapter.Adapter) (int64, error) {
		return a.EstimateRowCount(ctx, table)
	})
}

// CountRows counts the rows of table matching filter exactly.
func (s *Service) CountRows(ctx context.Context, p core.ConnectionProfile, table, filter string) (int64, error) {
	return run(ctx, s, p, OpCountRows, func(ctx context.Context, a adapter.Adapter) (int64, error) {
		return a.CountRows(ctx, table, filter)
	})
}

// OpenView returns a pagination controller for table on p. The caller owns
// the controller and must Close it.
func (s *Service) OpenView(p core.ConnectionProfile, table string, limit int) *pagination.Controller {
	if limit <= 0 {
		limit = s.pageSize
	}
	return pagination.New(&viewFetcher{svc: s, profile: p}, table, pagination.Options{
		Limit:   limit,
		Metrics: s.metrics,
		Logger:  s.logger.With(slog.String("profile", p.Name)),
	})
}

// run acquires the connection for p, executes call and reports the outcome
// back to the manager.
func run[T any](ctx context.Context, s *Service, p core.ConnectionProfile, op string, call executor.Call[T]) (T, error) {
	conn, err := s.conns.Acquire(ctx, p)
	if err != nil {
		var zero T
		return zero, err
	}
	out := executor.Execute(ctx, s.exec, conn, op, call)
	s.conns.Report(conn, out.Err)
	return out.Value, out.Err
}

// runPage is run for page-shaped results, stamping the measured elapsed time
// and the request sequence.
func runPage(ctx context.Context, s *Service, p core.ConnectionProfile, op string, seq uint64, call executor.Call[*core.PageResult]) (*core.PageResult, error) {
	conn, err := s.conns.Acquire(ctx, p)
	if err != nil {
		return nil, err
	}
	out := executor.Execute(ctx, s.exec, conn, op, call)
	s.conns.Report(conn, out.Err)
	if out.Err != nil {
		return nil, out.Err
	}
	res := out.Value
	if res == nil {
		res = &core.PageResult{}
	}
	res.Elapsed = out.Elapsed
	res.Sequence = seq
	if res.RowsReturned == 0 {
		res.RowsReturned = len(res.Rows)
	}
	return res, nil
}

// viewFetcher binds a profile so a pagination controller can fetch through
// the service.
type viewFetcher struct {
	svc     *Service
	profile core.ConnectionProfile
}

func (f *viewFetcher) FetchPage(ctx context.Context, req core.PageRequest) (*core.PageResult, error) {
	return f.svc.fetch(ctx, f.profile, req)
}

func (f *viewFetcher) EstimateRowCount(ctx context.Context, table string) (int64, error) {
	return f.svc.EstimateRowCount(ctx, f.profile, table)
}

func (f *viewFetcher) CountRows(ctx context.Context, table, filter string) (int64, error) {
	return f.svc.CountRows(ctx, f.profile, table, filter)
}
