// Package executor runs exactly one adapter call at a time under a timeout,
// measuring it and normalizing its error into the core taxonomy.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/dbrowse/internal/metrics"
	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// DefaultTimeout bounds a call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Target is what a call runs against: an adapter behind a concurrency gate.
// *connection.LiveConnection satisfies it.
type Target interface {
	Enter(ctx context.Context) (func(), error)
	Engine() core.EngineKind
	Backend() adapter.Adapter
}

// Call is one adapter operation.
type Call[T any] func(ctx context.Context, a adapter.Adapter) (T, error)

// Outcome is the result of one executed call.
type Outcome[T any] struct {
	Value   T
	Err     error
	Elapsed time.Duration
	QueryID string
}

// Executor holds the timeout and observability shared by calls.
type Executor struct {
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates an Executor. A non-positive timeout uses DefaultTimeout.
// If logger is nil, a discard logger is used.
func New(timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{timeout: timeout, metrics: m, logger: logger}
}

// Timeout returns the default per-call timeout.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

type timeoutKey struct{}

// WithTimeout overrides the executor timeout for calls made with ctx.
func WithTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, timeoutKey{}, d)
}

func (e *Executor) timeoutFor(ctx context.Context) time.Duration {
	if d, ok := ctx.Value(timeoutKey{}).(time.Duration); ok && d > 0 {
		return d
	}
	return e.timeout
}

// Execute runs call against the target adapter on a goroutine holding target's gate. It returns
// when the call finishes or the context ends, whichever is first; a result
// arriving after that is dropped. Errors are always taxonomy errors.
func Execute[T any](ctx context.Context, e *Executor, target Target, op string, call Call[T]) Outcome[T] {
	a := target.Backend()
	limit := e.timeoutFor(ctx)
	callCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	id := uuid.NewString()
	engine := string(target.Engine())
	logger := e.logger.With(
		slog.String("query_id", id),
		slog.String("engine", engine),
		slog.String("op", op))

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	start := time.Now()

	go func() {
		leave, err := target.Enter(callCtx)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer leave()
		v, err := call(callCtx, a)
		done <- result{value: v, err: err}
	}()

	var out Outcome[T]
	out.QueryID = id
	select {
	case r := <-done:
		out.Elapsed = time.Since(start)
		out.Value = r.value
		if r.err != nil {
			out.Err = normalize(ctx, callCtx, a, r.err, limit, out.Elapsed)
			if closedUnder(target) && !core.IsTransportFailure(out.Err) && callCtx.Err() == nil {
				out.Err = &core.ConnectionError{Reason: core.ReasonNetwork, Message: "connection closed during call: " + out.Err.Error()}
			}
		}
	case <-callCtx.Done():
		out.Elapsed = time.Since(start)
		out.Err = contextError(ctx, limit, out.Elapsed)
	}

	e.metrics.ObserveQuery(engine, op, out.Elapsed)
	if out.Err != nil {
		var zero T
		out.Value = zero
		kind := core.ErrorKind(out.Err)
		e.metrics.QueryFailed(engine, kind)
		logger.Warn("query failed",
			slog.String("kind", kind),
			slog.String("error", out.Err.Error()),
			slog.Duration("elapsed", out.Elapsed))
		return out
	}
	logger.Debug("query finished", slog.Duration("elapsed", out.Elapsed))
	return out
}

// closedUnder reports whether target was closed. Drivers describe a handle
// closed under a running call in engine-specific ways.
func closedUnder(target Target) bool {
	c, ok := target.(interface{ Closed() bool })
	return ok && c.Closed()
}

// normalize maps a call error. Context expiry wins over whatever the driver
// reported, because drivers describe an aborted call in many ways.
func normalize(parent, callCtx context.Context, a adapter.Adapter, err error, limit, elapsed time.Duration) error {
	if callCtx.Err() != nil {
		return contextError(parent, limit, elapsed)
	}
	classified := a.ClassifyError(err)
	if classified == nil {
		classified = adapter.Rejected(a.Kind(), err)
	}

	var timeoutErr *core.TimeoutError
	if errors.As(classified, &timeoutErr) {
		return &core.TimeoutError{Limit: limit, Elapsed: elapsed}
	}
	var cancelErr *core.CancelledError
	if errors.As(classified, &cancelErr) {
		return &core.CancelledError{Elapsed: elapsed}
	}
	if !core.IsTaxonomyError(classified) {
		return adapter.Rejected(a.Kind(), classified)
	}
	return classified
}

// contextError distinguishes caller cancellation from the executor deadline.
func contextError(parent context.Context, limit, elapsed time.Duration) error {
	if parent.Err() != nil && !errors.Is(parent.Err(), context.DeadlineExceeded) {
		return &core.CancelledError{Elapsed: elapsed}
	}
	return &core.TimeoutError{Limit: limit, Elapsed: elapsed}
}
