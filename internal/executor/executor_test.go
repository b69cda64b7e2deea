package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leapstack-labs/dbrowse/internal/metrics"
	"github.com/leapstack-labs/dbrowse/internal/testutil"
	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateTarget struct {
	gate    chan struct{}
	adapter adapter.Adapter
}

func newTarget(a adapter.Adapter) *gateTarget {
	return &gateTarget{gate: make(chan struct{}, 1), adapter: a}
}

func (g *gateTarget) Enter(ctx context.Context) (func(), error) {
	select {
	case g.gate <- struct{}{}:
		return func() { <-g.gate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gateTarget) Engine() core.EngineKind  { return g.adapter.Kind() }
func (g *gateTarget) Backend() adapter.Adapter { return g.adapter }

// closingTarget reports itself closed once closed is set.
type closingTarget struct {
	*gateTarget
	closed atomic.Bool
}

func (c *closingTarget) Closed() bool { return c.closed.Load() }

// driverError stands in for an engine-specific error type.
type driverError struct{ msg string }

func (e *driverError) Error() string { return e.msg }

func countRows(ctx context.Context, a adapter.Adapter) (int64, error) {
	return a.CountRows(ctx, "t", "")
}

func TestExecute_Success(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := New(time.Second, m, testutil.NewTestLogger(t))
	a := &testutil.FakeAdapter{CountFunc: func(context.Context, string, string) (int64, error) { return 42, nil }}

	out := Execute(context.Background(), e, newTarget(a), "count_rows", countRows)
	require.NoError(t, out.Err)
	assert.Equal(t, int64(42), out.Value)
	assert.NotEmpty(t, out.QueryID)
	assert.Positive(t, out.Elapsed)
	assert.Equal(t, 1, promtest.CollectAndCount(m.QueryDuration))
}

func TestExecute_Timeout(t *testing.T) {
	e := New(30*time.Millisecond, nil, testutil.NewTestLogger(t))
	a := &testutil.FakeAdapter{CountFunc: func(ctx context.Context, _, _ string) (int64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}}

	out := Execute(context.Background(), e, newTarget(a), "count_rows", countRows)
	var te *core.TimeoutError
	require.ErrorAs(t, out.Err, &te)
	assert.Equal(t, 30*time.Millisecond, te.Limit)
	assert.Zero(t, out.Value)
}

func TestExecute_ReturnsAtDeadlineEvenIfDriverIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	e := New(20*time.Millisecond, nil, nil)
	a := &testutil.FakeAdapter{CountFunc: func(context.Context, string, string) (int64, error) {
		<-release
		return 7, nil
	}}

	start := time.Now()
	out := Execute(context.Background(), e, newTarget(a), "count_rows", countRows)
	assert.Less(t, time.Since(start), time.Second)

	var te *core.TimeoutError
	require.ErrorAs(t, out.Err, &te)
	assert.Zero(t, out.Value, "late result is discarded")
}

func TestExecute_WithTimeoutOverride(t *testing.T) {
	e := New(time.Hour, nil, nil)
	a := &testutil.FakeAdapter{CountFunc: func(ctx context.Context, _, _ string) (int64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}}

	ctx := WithTimeout(context.Background(), 10*time.Millisecond)
	out := Execute(ctx, e, newTarget(a), "count_rows", countRows)
	var te *core.TimeoutError
	require.ErrorAs(t, out.Err, &te)
	assert.Equal(t, 10*time.Millisecond, te.Limit)
}

func TestExecute_CallerCancel(t *testing.T) {
	e := New(time.Hour, nil, nil)
	started := make(chan struct{})
	a := &testutil.FakeAdapter{CountFunc: func(ctx context.Context, _, _ string) (int64, error) {
		close(started)
		<-ctx.Done()
		return 0, &driverError{"canceling statement due to user request"}
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	out := Execute(ctx, e, newTarget(a), "count_rows", countRows)
	var ce *core.CancelledError
	require.ErrorAs(t, out.Err, &ce)
}

func TestExecute_WaitingForGateHonoursTimeout(t *testing.T) {
	e := New(20*time.Millisecond, nil, nil)
	a := &testutil.FakeAdapter{}
	target := newTarget(a)

	leave, err := target.Enter(context.Background())
	require.NoError(t, err)
	defer leave()

	out := Execute(context.Background(), e, target, "count_rows", countRows)
	var te *core.TimeoutError
	assert.ErrorAs(t, out.Err, &te)
}

func TestExecute_ClosedDuringCallIsTransportFailure(t *testing.T) {
	e := New(time.Second, nil, testutil.NewTestLogger(t))
	target := &closingTarget{}
	a := &testutil.FakeAdapter{CountFunc: func(context.Context, string, string) (int64, error) {
		target.closed.Store(true)
		return 0, &driverError{msg: "sql: database is closed"}
	}}
	target.gateTarget = newTarget(a)

	out := Execute(context.Background(), e, target, "count_rows", countRows)
	require.Error(t, out.Err)
	assert.True(t, core.IsTransportFailure(out.Err))
	assert.Contains(t, out.Err.Error(), "database is closed")

	// An open target keeps the adapter's own classification.
	target.closed.Store(false)
	a.CountFunc = func(context.Context, string, string) (int64, error) {
		return 0, &driverError{msg: "syntax error"}
	}
	out = Execute(context.Background(), e, target, "count_rows", countRows)
	var syntaxErr *core.QuerySyntaxError
	assert.ErrorAs(t, out.Err, &syntaxErr)
}

func TestExecute_ClassifiesDriverErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := New(time.Second, m, nil)

	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"driver error becomes syntax", &driverError{"near \"SELEC\": syntax error"}, "syntax"},
		{"taxonomy passes through", &core.NotFoundError{Object: "t"}, "not_found"},
		{"transport failure", &core.ConnectionError{Reason: core.ReasonNetwork}, "connection_network"},
		{"driver timeout is stamped", &core.TimeoutError{}, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &testutil.FakeAdapter{CountFunc: func(context.Context, string, string) (int64, error) { return 0, tt.err }}
			out := Execute(context.Background(), e, newTarget(a), "count_rows", countRows)
			require.Error(t, out.Err)
			assert.Equal(t, tt.kind, core.ErrorKind(out.Err))
			assert.True(t, core.IsTaxonomyError(out.Err))

			var de *driverError
			assert.False(t, errors.As(out.Err, &de), "driver error types must not leak")
		})
	}

	assert.InDelta(t, 1, promtest.ToFloat64(m.QueryErrors.WithLabelValues("fake", "syntax")), 0)
}

func TestExecute_TimeoutStampsLimit(t *testing.T) {
	e := New(time.Second, nil, nil)
	a := &testutil.FakeAdapter{CountFunc: func(context.Context, string, string) (int64, error) {
		return 0, &core.TimeoutError{}
	}}
	out := Execute(context.Background(), e, newTarget(a), "count_rows", countRows)
	var te *core.TimeoutError
	require.ErrorAs(t, out.Err, &te)
	assert.Equal(t, time.Second, te.Limit)
}

func TestNew_Defaults(t *testing.T) {
	e := New(0, nil, nil)
	assert.Equal(t, DefaultTimeout, e.Timeout())
}
