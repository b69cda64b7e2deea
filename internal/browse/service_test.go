package browse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/dbrowse/internal/connection"
	"github.com/leapstack-labs/dbrowse/internal/executor"
	"github.com/leapstack-labs/dbrowse/internal/pagination"
	"github.com/leapstack-labs/dbrowse/internal/testutil"
	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	_ "github.com/leapstack-labs/dbrowse/pkg/adapters/sqlite"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

var fakeProfile = core.ConnectionProfile{Name: "fake", Engine: testutil.FakeEngine}

func newFakeService(t *testing.T, fake *testutil.FakeAdapter) *Service {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	conns := connection.NewManager(connection.Options{
		Factory: func(core.EngineKind, *slog.Logger) (adapter.Adapter, error) { return fake, nil },
		Logger:  logger,
	})
	svc := New(Options{
		Connections: conns,
		Executor:    executor.New(time.Second, nil, logger),
		PageSize:    7,
		Logger:      logger,
	})
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestExecuteRawQuery_EmptyNeverReachesEngine(t *testing.T) {
	fake := &testutil.FakeAdapter{RawFunc: func(context.Context, string) (*core.PageResult, error) {
		t.Error("engine must not be called")
		return nil, nil
	}}
	svc := newFakeService(t, fake)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := svc.ExecuteRawQuery(context.Background(), fakeProfile, text)
		var se *core.QuerySyntaxError
		require.ErrorAs(t, err, &se)
	}
	assert.Zero(t, fake.Opens(), "no connection opened for empty text")
}

func TestFetchPage_DefaultsAndStamps(t *testing.T) {
	var got core.PageRequest
	fake := &testutil.FakeAdapter{FetchFunc: func(_ context.Context, req core.PageRequest) (*core.PageResult, error) {
		got = req
		return &core.PageResult{Columns: []string{"id"}, Rows: [][]any{{1}, {2}}}, nil
	}}
	svc := newFakeService(t, fake)

	res, err := svc.FetchPage(context.Background(), fakeProfile, "t", "id > 0", "id", 14, 0)
	require.NoError(t, err)
	assert.Equal(t, core.PageRequest{Table: "t", Filter: "id > 0", Sort: "id", Offset: 14, Limit: 7}, got)
	assert.Equal(t, 2, res.RowsReturned)
	assert.Positive(t, res.Elapsed)
}

func TestFetchPage_InvalidWindow(t *testing.T) {
	fake := &testutil.FakeAdapter{}
	svc := newFakeService(t, fake)

	_, err := svc.FetchPage(context.Background(), fakeProfile, "t", "", "", -1, 10)
	var se *core.QuerySyntaxError
	require.ErrorAs(t, err, &se)
	assert.Zero(t, fake.Opens())
}

func TestTransportFailureReopens(t *testing.T) {
	calls := 0
	fake := &testutil.FakeAdapter{CountFunc: func(context.Context, string, string) (int64, error) {
		calls++
		if calls == 1 {
			return 0, io.ErrUnexpectedEOF
		}
		return 3, nil
	}}
	svc := newFakeService(t, fake)

	_, err := svc.CountRows(context.Background(), fakeProfile, "t", "")
	var ce *core.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.ReasonNetwork, ce.Reason)
	assert.Equal(t, 1, fake.Closes(), "broken connection torn down")

	n, err := svc.CountRows(context.Background(), fakeProfile, "t", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 2, fake.Opens(), "not retried, reopened on next use")
}

func TestQueryErrorKeepsConnection(t *testing.T) {
	fake := &testutil.FakeAdapter{RawFunc: func(context.Context, string) (*core.PageResult, error) {
		return nil, fmt.Errorf("syntax error at or near %q", "SELEC")
	}}
	svc := newFakeService(t, fake)

	_, err := svc.ExecuteRawQuery(context.Background(), fakeProfile, "SELEC 1")
	var se *core.QuerySyntaxError
	require.ErrorAs(t, err, &se)

	_, err = svc.ExecuteRawQuery(context.Background(), fakeProfile, "SELEC 2")
	require.Error(t, err)
	assert.Equal(t, 1, fake.Opens())
	assert.Zero(t, fake.Closes())
}

func TestUnknownEngine(t *testing.T) {
	svc := New(Options{Logger: testutil.NewTestLogger(t)})

	_, err := svc.ListTables(context.Background(), core.ConnectionProfile{Name: "x", Engine: "oracle"})
	var ce *core.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.ReasonUnsupportedEngine, ce.Reason)
	var ue *core.UnknownEngineError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, core.EngineKind("oracle"), ue.Kind)
}

func TestOpenView_Fake(t *testing.T) {
	fake := &testutil.FakeAdapter{
		FetchFunc: func(_ context.Context, req core.PageRequest) (*core.PageResult, error) {
			return &core.PageResult{Columns: []string{"offset"}, Rows: [][]any{{req.Offset}}}, nil
		},
		EstimateFunc: func(context.Context, string) (int64, error) { return 100, nil },
	}
	svc := newFakeService(t, fake)

	view := svc.OpenView(fakeProfile, "t", 0)
	defer view.Close()

	seq := view.Refresh(context.Background())
	u := nextUpdate(t, view)
	require.Equal(t, pagination.PageApplied, u.Kind)
	assert.Equal(t, seq, u.State.Result.Sequence)
	assert.Equal(t, 7, u.State.Limit)

	view.RefreshTotal(context.Background(), false)
	u = nextUpdate(t, view)
	assert.Equal(t, pagination.Total{Value: 100, Known: true}, u.State.Total)
}

func nextUpdate(t *testing.T, view *pagination.Controller) pagination.Update {
	t.Helper()
	select {
	case u := <-view.Updates():
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for view update")
		return pagination.Update{}
	}
}

// newSQLiteFixture creates a database with 25 users, a posts table and a view.
func newSQLiteFixture(t *testing.T) core.ConnectionProfile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "browse.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	stmts := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, age INTEGER)`,
		`CREATE UNIQUE INDEX users_name ON users(name)`,
		`CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER, body TEXT)`,
		`CREATE VIEW adults AS SELECT * FROM users WHERE age >= 18`,
	}
	for i := 1; i <= 25; i++ {
		stmts = append(stmts, fmt.Sprintf(`INSERT INTO users (id, name, age) VALUES (%d, 'user%02d', %d)`, i, i, i))
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	return core.ConnectionProfile{Name: "local", Engine: core.EngineSQLite, Database: path}
}

func newSQLiteService(t *testing.T) *Service {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	svc := New(Options{
		Connections: connection.NewManager(connection.Options{Logger: logger}),
		Executor:    executor.New(5*time.Second, nil, logger),
		PageSize:    10,
		Logger:      logger,
	})
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestSQLite_EndToEnd(t *testing.T) {
	p := newSQLiteFixture(t)
	svc := newSQLiteService(t)
	ctx := context.Background()

	tables, err := svc.ListTables(ctx, p)
	require.NoError(t, err)
	var names []string
	for _, tbl := range tables {
		names = append(names, tbl.Name)
	}
	assert.ElementsMatch(t, []string{"users", "posts", "adults"}, names)

	again, err := svc.ListTables(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, tables, again)

	desc, err := svc.DescribeTable(ctx, p, "users")
	require.NoError(t, err)
	require.Len(t, desc.Columns, 3)
	assert.Equal(t, "id", desc.Columns[0].Name)
	assert.True(t, desc.Columns[0].IsPrimaryKey)
	require.Len(t, desc.Indexes, 1)
	assert.Equal(t, []string{"name"}, desc.Indexes[0].Columns)
	assert.True(t, desc.Indexes[0].Unique)

	page, err := svc.FetchPage(ctx, p, "users", "age > 5", "age DESC", 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "age"}, page.Columns)
	require.Len(t, page.Rows, 3)
	assert.EqualValues(t, 25, page.Rows[0][2])
	assert.EqualValues(t, 23, page.Rows[2][2])

	first, err := svc.FetchPage(ctx, p, "users", "", "id", 0, 10)
	require.NoError(t, err)
	second, err := svc.FetchPage(ctx, p, "users", "", "id", 10, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 10, first.Rows[9][0])
	assert.EqualValues(t, 11, second.Rows[0][0])

	n, err := svc.CountRows(ctx, p, "users", "age >= 18")
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	raw, err := svc.ExecuteRawQuery(ctx, p, "SELECT COUNT(*) AS n FROM adults")
	require.NoError(t, err)
	assert.Equal(t, []string{"n"}, raw.Columns)
	assert.EqualValues(t, 8, raw.Rows[0][0])

	stats := svc.Connections().Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "local", stats[0].Profile)
}

func TestSQLite_Errors(t *testing.T) {
	p := newSQLiteFixture(t)
	svc := newSQLiteService(t)
	ctx := context.Background()

	_, err := svc.FetchPage(ctx, p, "missing", "", "", 0, 10)
	var nf *core.NotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = svc.FetchPage(ctx, p, "users", "nope = ", "", 0, 10)
	var se *core.QuerySyntaxError
	require.ErrorAs(t, err, &se)
	assert.NotEmpty(t, se.Message)

	_, err = svc.DescribeTable(ctx, p, "missing")
	require.ErrorAs(t, err, &nf)

	// The connection survives query errors.
	_, err = svc.CountRows(ctx, p, "users", "")
	require.NoError(t, err)

	_, err = svc.ListTables(ctx, core.ConnectionProfile{Name: "gone", Engine: core.EngineSQLite, Database: filepath.Join(t.TempDir(), "none.db")})
	var ce *core.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.True(t, strings.Contains(ce.Error(), "gone"))
}

func TestSQLite_ViewPaging(t *testing.T) {
	p := newSQLiteFixture(t)
	svc := newSQLiteService(t)
	ctx := context.Background()

	view := svc.OpenView(p, "users", 10)
	defer view.Close()

	view.RequestPage(ctx, 0, 10, "", "id")
	u := nextUpdate(t, view)
	require.Equal(t, pagination.PageApplied, u.Kind, "%v", u.Err)

	view.RefreshTotal(ctx, true)
	u = nextUpdate(t, view)
	require.Equal(t, pagination.TotalApplied, u.Kind, "%v", u.Err)
	assert.Equal(t, pagination.Total{Value: 25, Known: true, Exact: true}, u.State.Total)

	view.NextPage(ctx)
	view.NextPage(ctx)
	for {
		u = nextUpdate(t, view)
		if u.State.Offset == 20 {
			break
		}
	}
	assert.Equal(t, 3, u.State.Page)
	require.Len(t, u.State.Result.Rows, 5)
	assert.EqualValues(t, 21, u.State.Result.Rows[0][0])

	view.NextPage(ctx)
	u = nextUpdate(t, view)
	assert.Equal(t, 20, u.State.Offset, "clamped at the last page")

	view.SetFilter(ctx, "broken filter (")
	u = nextUpdate(t, view)
	assert.Equal(t, pagination.PageFailed, u.Kind)
	assert.Equal(t, 20, u.State.Offset, "failure leaves the view unchanged")
}

func TestSQLite_CloseWhileFetching(t *testing.T) {
	p := newSQLiteFixture(t)
	svc := newSQLiteService(t)
	ctx := context.Background()

	for round := range 20 {
		var wg sync.WaitGroup
		errs := make(chan error, 4)
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.FetchPage(ctx, p, "users", "", "id", 0, 10)
				errs <- err
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Connections().Close(p.Name))
		}()
		wg.Wait()
		close(errs)

		for err := range errs {
			if err != nil {
				assert.True(t, core.IsTransportFailure(err), "round %d: %v", round, err)
			}
		}
	}

	res, err := svc.FetchPage(ctx, p, "users", "", "id", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, res.RowsReturned)
}

func TestTeardownWhileFetching(t *testing.T) {
	var calls sync.WaitGroup
	calls.Add(4)
	release := make(chan struct{})
	fake := &testutil.FakeAdapter{
		Concurrency: 5,
		FetchFunc: func(context.Context, core.PageRequest) (*core.PageResult, error) {
			calls.Done()
			<-release
			return nil, errors.New("sql: database is closed")
		},
		CountFunc: func(context.Context, string, string) (int64, error) {
			return 0, io.ErrUnexpectedEOF
		},
	}
	svc := newFakeService(t, fake)
	ctx := context.Background()

	errs := make(chan error, 4)
	for range 4 {
		go func() {
			_, err := svc.FetchPage(ctx, fakeProfile, "t", "", "", 0, 5)
			errs <- err
		}()
	}
	calls.Wait()

	_, err := svc.CountRows(ctx, fakeProfile, "t", "")
	require.True(t, core.IsTransportFailure(err))
	assert.Equal(t, 1, fake.Closes())

	close(release)
	for range 4 {
		err := <-errs
		assert.True(t, core.IsTransportFailure(err), "%v", err)
	}
}
