package clickhouse

import (
	"bytes"
	"context"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeColumn struct {
	name string
	typ  reflect.Type
}

func (c fakeColumn) Name() string             { return c.name }
func (c fakeColumn) Nullable() bool           { return false }
func (c fakeColumn) ScanType() reflect.Type   { return c.typ }
func (c fakeColumn) DatabaseTypeName() string { return c.typ.String() }

type fakeRows struct {
	cols []fakeColumn
	data [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

func (r *fakeRows) ScanStruct(any) error { return nil }
func (r *fakeRows) Totals(...any) error  { return nil }
func (r *fakeRows) Close() error         { return nil }
func (r *fakeRows) Err() error           { return nil }

func (r *fakeRows) Columns() []string {
	names := make([]string, len(r.cols))
	for i, c := range r.cols {
		names[i] = c.name
	}
	return names
}

func (r *fakeRows) ColumnTypes() []chdriver.ColumnType {
	types := make([]chdriver.ColumnType, len(r.cols))
	for i, c := range r.cols {
		types[i] = c
	}
	return types
}

type fakeRow struct {
	rows *fakeRows
	err  error
}

func (r fakeRow) Err() error { return r.err }
func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if !r.rows.Next() {
		return assert.AnError
	}
	return r.rows.Scan(dest...)
}
func (r fakeRow) ScanStruct(any) error { return nil }

type fakeConn struct {
	queries []string
	execs   []string
	results []*fakeRows
	closes  int
}

func (c *fakeConn) next() *fakeRows {
	if len(c.results) == 0 {
		return &fakeRows{}
	}
	r := c.results[0]
	c.results = c.results[1:]
	return r
}

func (c *fakeConn) Query(_ context.Context, q string, _ ...any) (chdriver.Rows, error) {
	c.queries = append(c.queries, q)
	return c.next(), nil
}

func (c *fakeConn) QueryRow(_ context.Context, q string, _ ...any) chdriver.Row {
	c.queries = append(c.queries, q)
	return fakeRow{rows: c.next()}
}

func (c *fakeConn) Exec(_ context.Context, q string, _ ...any) error {
	c.execs = append(c.execs, q)
	return nil
}

func (c *fakeConn) Ping(context.Context) error { return nil }

func (c *fakeConn) Close() error {
	c.closes++
	return nil
}

var (
	int64Type  = reflect.TypeOf(int64(0))
	stringType = reflect.TypeOf("")
	uint64Type = reflect.TypeOf(uint64(0))
	uint8Type  = reflect.TypeOf(uint8(0))
)

func newFaked(logger *slog.Logger, results ...*fakeRows) (*Adapter, *fakeConn) {
	c := &fakeConn{results: results}
	a := New(logger)
	a.conn = c
	a.profile = core.ConnectionProfile{Name: "ch", Engine: core.EngineClickHouse, Database: "analytics"}
	return a, c
}

func TestBuildOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		opts, err := buildOptions(core.ConnectionProfile{Engine: core.EngineClickHouse}, "", 4)
		require.NoError(t, err)

		assert.Equal(t, []string{"localhost:9000"}, opts.Addr)
		assert.Equal(t, "default", opts.Auth.Database)
		assert.Equal(t, "default", opts.Auth.Username)
		assert.Equal(t, 60, opts.Settings["max_execution_time"])
		assert.Equal(t, 10*time.Second, opts.DialTimeout)
		require.NotNil(t, opts.Compression)
		assert.Equal(t, clickhouse.CompressionLZ4, opts.Compression.Method)
		assert.Nil(t, opts.TLS)
	})

	t.Run("params", func(t *testing.T) {
		profile := core.ConnectionProfile{
			Engine:   core.EngineClickHouse,
			Host:     "ch.internal",
			Port:     9440,
			Database: "events",
			Username: "reader",
			Params: map[string]any{
				"settings":           map[string]any{"readonly": 1},
				"compression":        "zstd",
				"secure":             "true",
				"dial_timeout":       "2s",
				"max_execution_time": 5,
			},
		}
		opts, err := buildOptions(profile, "pw", 2)
		require.NoError(t, err)

		assert.Equal(t, []string{"ch.internal:9440"}, opts.Addr)
		assert.Equal(t, "pw", opts.Auth.Password)
		assert.Equal(t, 5, opts.Settings["max_execution_time"])
		assert.Equal(t, 1, opts.Settings["readonly"])
		assert.Equal(t, clickhouse.CompressionZSTD, opts.Compression.Method)
		assert.NotNil(t, opts.TLS)
		assert.Equal(t, 2*time.Second, opts.DialTimeout)
		assert.Equal(t, 2, opts.MaxOpenConns)
	})

	t.Run("unknown compression", func(t *testing.T) {
		_, err := buildOptions(core.ConnectionProfile{Params: map[string]any{"compression": "snappy"}}, "", 1)
		assert.Error(t, err)
	})
}

func TestAdapter_FetchPage(t *testing.T) {
	rows := &fakeRows{
		cols: []fakeColumn{{"id", int64Type}, {"event", stringType}},
		data: [][]any{{int64(1), "click"}, {int64(2), "view"}},
	}
	a, c := newFaked(nil, rows)

	res, err := a.FetchPage(context.Background(), core.PageRequest{Table: "events", Filter: "event != ''", Sort: "id", Limit: 2, Sequence: 9})
	require.NoError(t, err)

	assert.Equal(t, []string{"SELECT * FROM `events` WHERE (event != '') ORDER BY id LIMIT 2 OFFSET 0"}, c.queries)
	assert.Equal(t, []string{"id", "event"}, res.Columns)
	assert.Equal(t, [][]any{{int64(1), "click"}, {int64(2), "view"}}, res.Rows)
	assert.Equal(t, 2, res.RowsReturned)
	assert.Equal(t, uint64(9), res.Sequence)
}

func TestAdapter_FetchPage_WarnsOnLargeOffset(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	a, _ := newFaked(logger, &fakeRows{}, &fakeRows{})
	a.Configure(adapter.Settings{LargeOffsetWarning: 1000})

	_, err := a.FetchPage(context.Background(), core.PageRequest{Table: "events", Offset: 500, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, buf.String())

	_, err = a.FetchPage(context.Background(), core.PageRequest{Table: "events", Offset: 5000, Limit: 10})
	require.NoError(t, err, "large offsets are still honored")
	assert.Contains(t, buf.String(), "large offset")
	assert.Contains(t, buf.String(), "offset=5000")
}

func TestAdapter_ExecuteRawQuery(t *testing.T) {
	t.Run("statement without result set", func(t *testing.T) {
		a, c := newFaked(nil)
		res, err := a.ExecuteRawQuery(context.Background(), "OPTIMIZE TABLE events FINAL")
		require.NoError(t, err)
		assert.Equal(t, []string{"OPTIMIZE TABLE events FINAL"}, c.execs)
		assert.Empty(t, res.Columns)
	})

	t.Run("select is capped", func(t *testing.T) {
		rows := &fakeRows{
			cols: []fakeColumn{{"n", uint64Type}},
			data: [][]any{{uint64(1)}, {uint64(2)}, {uint64(3)}},
		}
		a, _ := newFaked(nil, rows)
		a.Configure(adapter.Settings{MaxRawRows: 2})

		res, err := a.ExecuteRawQuery(context.Background(), "select number AS n FROM numbers(3)")
		require.NoError(t, err)
		assert.Equal(t, 2, res.RowsReturned)
		assert.True(t, res.Truncated)
	})

	t.Run("empty", func(t *testing.T) {
		a, _ := newFaked(nil)
		_, err := a.ExecuteRawQuery(context.Background(), "")
		var syntaxErr *core.QuerySyntaxError
		assert.ErrorAs(t, err, &syntaxErr)
	})
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"SELECT 1", true},
		{"  with x AS (SELECT 1) SELECT * FROM x", true},
		{"(SELECT 1) UNION ALL (SELECT 2)", true},
		{"SHOW TABLES", true},
		{"DESCRIBE events", true},
		{"INSERT INTO t VALUES (1)", false},
		{"CREATE TABLE t (x UInt8) ENGINE = Memory", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, returnsRows(tt.text))
		})
	}
}

func TestAdapter_ListTables(t *testing.T) {
	rows := &fakeRows{
		cols: []fakeColumn{{"database", stringType}, {"name", stringType}, {"engine", stringType}, {"rows", int64Type}, {"bytes", int64Type}},
		data: [][]any{
			{"analytics", "sessions", "MergeTree", int64(10), int64(2048)},
			{"analytics", "daily", "MaterializedView", int64(-1), int64(-1)},
			{"analytics", "events", "MergeTree", int64(1000000), int64(52428800)},
		},
	}
	a, _ := newFaked(nil, rows)

	tables, err := a.ListTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 3)
	assert.Equal(t, "events", tables[0].Name)
	assert.Equal(t, "sessions", tables[1].Name)
	assert.Equal(t, core.KindView, tables[2].Kind)
}

func TestAdapter_GetTableSchema(t *testing.T) {
	columns := &fakeRows{
		cols: []fakeColumn{{"name", stringType}, {"type", stringType}, {"position", uint64Type}, {"pk", uint8Type}},
		data: [][]any{
			{"ts", "DateTime", uint64(1), uint8(1)},
			{"user_id", "UInt64", uint64(2), uint8(1)},
			{"referrer", "Nullable(String)", uint64(3), uint8(0)},
		},
	}
	keys := &fakeRows{
		cols: []fakeColumn{{"primary_key", stringType}, {"sorting_key", stringType}},
		data: [][]any{{"ts, user_id", "ts, user_id"}},
	}
	skipping := &fakeRows{
		cols: []fakeColumn{{"name", stringType}, {"type", stringType}, {"expr", stringType}, {"granularity", uint64Type}},
		data: [][]any{{"ref_bf", "bloom_filter", "referrer", uint64(4)}},
	}
	a, _ := newFaked(nil, columns, keys, skipping)

	schema, err := a.GetTableSchema(context.Background(), "events")
	require.NoError(t, err)

	require.Len(t, schema.Columns, 3)
	assert.True(t, schema.Columns[0].IsPrimaryKey)
	assert.True(t, schema.Columns[2].Nullable)
	assert.Equal(t, 3, schema.Columns[2].Position)

	require.Len(t, schema.Indexes, 2)
	assert.Equal(t, []string{"ts", "user_id"}, schema.Indexes[0].Columns)
	assert.Equal(t, "ref_bf", schema.Indexes[1].Name)
	assert.Contains(t, schema.Indexes[1].Definition, "bloom_filter")
}

func TestAdapter_EstimateRowCount(t *testing.T) {
	t.Run("tracked", func(t *testing.T) {
		a, _ := newFaked(nil, &fakeRows{cols: []fakeColumn{{"n", int64Type}}, data: [][]any{{int64(77)}}})
		n, err := a.EstimateRowCount(context.Background(), "events")
		require.NoError(t, err)
		assert.Equal(t, int64(77), n)
	})

	t.Run("untracked falls back to count", func(t *testing.T) {
		a, c := newFaked(nil,
			&fakeRows{cols: []fakeColumn{{"n", int64Type}}, data: [][]any{{int64(-1)}}},
			&fakeRows{cols: []fakeColumn{{"count", uint64Type}}, data: [][]any{{uint64(5)}}},
		)
		n, err := a.EstimateRowCount(context.Background(), "log")
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		assert.Equal(t, "SELECT COUNT(*) FROM `log`", c.queries[1])
	})

	t.Run("missing", func(t *testing.T) {
		a, _ := newFaked(nil, &fakeRows{})
		_, err := a.EstimateRowCount(context.Background(), "ghost")
		var notFound *core.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestAdapter_ClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		code     int32
		wantKind string
	}{
		{"syntax", 62, "syntax"},
		{"unknown identifier", 47, "syntax"},
		{"unknown table", 60, "not_found"},
		{"unknown database", 81, "not_found"},
		{"authentication failed", 516, "connection_auth"},
		{"timeout", 159, "timeout"},
		{"cancelled", 394, "cancelled"},
		{"network", 210, "connection_network"},
		{"not implemented", 48, "unsupported"},
		{"other", 999, "syntax"},
	}

	a := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.ClassifyError(&clickhouse.Exception{Code: tt.code, Message: "boom"})
			assert.Equal(t, tt.wantKind, core.ErrorKind(err))
		})
	}
}

func TestAdapter_NotConnected(t *testing.T) {
	a := New(nil)
	_, err := a.FetchPage(context.Background(), core.PageRequest{Table: "t", Limit: 1})
	assert.ErrorIs(t, err, adapter.ErrNotConnected)
	assert.NoError(t, a.Close())
}

func TestAdapter_CloseKeepsHandle(t *testing.T) {
	a, c := newFaked(nil)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, c.closes)
	assert.NotNil(t, a.conn)

	_, err := a.FetchPage(context.Background(), core.PageRequest{Table: "t", Limit: 1})
	assert.ErrorIs(t, err, adapter.ErrNotConnected)
	assert.ErrorIs(t, a.Ping(context.Background()), adapter.ErrNotConnected)
}
