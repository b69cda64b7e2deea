package testutil

import (
	"context"
	"sync"

	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// FakeEngine is the engine kind reported by FakeAdapter unless Engine is set.
const FakeEngine core.EngineKind = "fake"

// FakeAdapter is an in-memory adapter.Adapter driven by function hooks.
// Unset hooks return zero values. Counters are safe for concurrent use.
type FakeAdapter struct {
	Engine       core.EngineKind
	Concurrency  int
	OpenFunc     func(ctx context.Context, p core.ConnectionProfile, password string) error
	PingFunc     func(ctx context.Context) error
	CloseFunc    func() error
	ListFunc     func(ctx context.Context) ([]core.TableDescriptor, error)
	SchemaFunc   func(ctx context.Context, table string) (*core.TableSchema, error)
	EstimateFunc func(ctx context.Context, table string) (int64, error)
	CountFunc    func(ctx context.Context, table, filter string) (int64, error)
	FetchFunc    func(ctx context.Context, req core.PageRequest) (*core.PageResult, error)
	RawFunc      func(ctx context.Context, text string) (*core.PageResult, error)

	mu       sync.Mutex
	opens    int
	closes   int
	password string
	settings adapter.Settings
}

var (
	_ adapter.Adapter      = (*FakeAdapter)(nil)
	_ adapter.Configurable = (*FakeAdapter)(nil)
)

// Open records the call and runs OpenFunc.
func (f *FakeAdapter) Open(ctx context.Context, p core.ConnectionProfile, password string) error {
	f.mu.Lock()
	f.opens++
	f.password = password
	f.mu.Unlock()
	if f.OpenFunc != nil {
		return f.OpenFunc(ctx, p, password)
	}
	return nil
}

// Close records the call and runs CloseFunc.
func (f *FakeAdapter) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	if f.CloseFunc != nil {
		return f.CloseFunc()
	}
	return nil
}

// Opens returns how many times Open was called.
func (f *FakeAdapter) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Closes returns how many times Close was called.
func (f *FakeAdapter) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Password returns the password given to the last Open.
func (f *FakeAdapter) Password() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.password
}

// Settings returns the settings given to Configure.
func (f *FakeAdapter) Settings() adapter.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

// Configure implements adapter.Configurable.
func (f *FakeAdapter) Configure(s adapter.Settings) {
	f.mu.Lock()
	f.settings = s
	f.mu.Unlock()
}

// Ping runs PingFunc.
func (f *FakeAdapter) Ping(ctx context.Context) error {
	if f.PingFunc != nil {
		return f.PingFunc(ctx)
	}
	return nil
}

// Kind returns Engine, or FakeEngine when unset.
func (f *FakeAdapter) Kind() core.EngineKind {
	if f.Engine == "" {
		return FakeEngine
	}
	return f.Engine
}

// Capabilities reports Concurrency (default 1).
func (f *FakeAdapter) Capabilities() adapter.Capabilities {
	n := f.Concurrency
	if n <= 0 {
		n = 1
	}
	return adapter.Capabilities{MaxConcurrency: n, Cancellable: true, QueryLanguage: "sql"}
}

// ListTables runs ListFunc.
func (f *FakeAdapter) ListTables(ctx context.Context) ([]core.TableDescriptor, error) {
	if f.ListFunc != nil {
		return f.ListFunc(ctx)
	}
	return nil, nil
}

// GetTableSchema runs SchemaFunc.
func (f *FakeAdapter) GetTableSchema(ctx context.Context, table string) (*core.TableSchema, error) {
	if f.SchemaFunc != nil {
		return f.SchemaFunc(ctx, table)
	}
	return &core.TableSchema{Table: table}, nil
}

// EstimateRowCount runs EstimateFunc.
func (f *FakeAdapter) EstimateRowCount(ctx context.Context, table string) (int64, error) {
	if f.EstimateFunc != nil {
		return f.EstimateFunc(ctx, table)
	}
	return 0, nil
}

// CountRows runs CountFunc.
func (f *FakeAdapter) CountRows(ctx context.Context, table, filter string) (int64, error) {
	if f.CountFunc != nil {
		return f.CountFunc(ctx, table, filter)
	}
	return 0, nil
}

// FetchPage runs FetchFunc and stamps the request sequence on the result.
func (f *FakeAdapter) FetchPage(ctx context.Context, req core.PageRequest) (*core.PageResult, error) {
	if f.FetchFunc == nil {
		return &core.PageResult{Sequence: req.Sequence}, nil
	}
	res, err := f.FetchFunc(ctx, req)
	if res != nil {
		res.Sequence = req.Sequence
	}
	return res, err
}

// ExecuteRawQuery runs RawFunc.
func (f *FakeAdapter) ExecuteRawQuery(ctx context.Context, text string) (*core.PageResult, error) {
	if f.RawFunc != nil {
		return f.RawFunc(ctx, text)
	}
	return &core.PageResult{}, nil
}

// ClassifyError maps shared errors and treats everything else as rejected.
func (f *FakeAdapter) ClassifyError(err error) error {
	if classified, ok := adapter.ClassifyCommon(err); ok {
		return classified
	}
	return adapter.Rejected(f.Kind(), err)
}

// BlockingFetch returns a FetchFunc that waits for release (or ctx) before
// returning result.
func BlockingFetch(release <-chan struct{}, result *core.PageResult) func(context.Context, core.PageRequest) (*core.PageResult, error) {
	return func(ctx context.Context, _ core.PageRequest) (*core.PageResult, error) {
		select {
		case <-release:
			r := *result
			return &r, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
