// Package clickhouse provides a ClickHouse engine adapter for dbrowse.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync/atomic"

	"github.com/ClickHouse/clickhouse-go/v2"
	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// ClickHouse server exception codes.
const (
	codeUnsupportedMethod    = 1
	codeUnknownIdentifier    = 47
	codeNotImplemented       = 48
	codeUnknownTable         = 60
	codeSyntaxError          = 62
	codeUnknownDatabase      = 81
	codeTimeoutExceeded      = 159
	codeUnknownUser          = 192
	codeWrongPassword        = 193
	codeSocketTimeout        = 209
	codeNetworkError         = 210
	codeQueryWasCancelled    = 394
	codeAccessDenied         = 497
	codeAuthenticationFailed = 516
)

// conn is the subset of chdriver.Conn the adapter uses.
type conn interface {
	Query(ctx context.Context, query string, args ...any) (chdriver.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) chdriver.Row
	Exec(ctx context.Context, query string, args ...any) error
	Ping(ctx context.Context) error
	Close() error
}

// Adapter implements the adapter.Adapter interface for ClickHouse over the
// native protocol.
type Adapter struct {
	conn     conn
	profile  core.ConnectionProfile
	settings adapter.Settings
	logger   *slog.Logger
	closed   atomic.Bool
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a new ClickHouse adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{settings: adapter.DefaultSettings(), logger: logger}
}

// Configure applies shared settings.
func (a *Adapter) Configure(s adapter.Settings) { a.settings = s }

// Kind returns core.EngineClickHouse.
func (a *Adapter) Kind() core.EngineKind { return core.EngineClickHouse }

// Capabilities reports the ClickHouse limits.
func (a *Adapter) Capabilities() adapter.Capabilities {
	n := a.settings.MaxConcurrency
	if n <= 0 {
		n = 4
	}
	return adapter.Capabilities{MaxConcurrency: n, Cancellable: true, QueryLanguage: "sql"}
}

// Open establishes a native connection to ClickHouse.
func (a *Adapter) Open(ctx context.Context, profile core.ConnectionProfile, password string) error {
	opts, err := buildOptions(profile, password, a.Capabilities().MaxConcurrency)
	if err != nil {
		return err
	}

	a.logger.Debug("connecting to clickhouse", slog.String("addr", opts.Addr[0]), slog.String("database", opts.Auth.Database))

	c, err := clickhouse.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open clickhouse connection: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	a.conn = c
	a.profile = profile
	a.profile.Database = opts.Auth.Database
	return nil
}

// Close closes the connection. It is safe to call while queries are running
// and more than once.
func (a *Adapter) Close() error {
	if a.conn == nil || !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.logger.Debug("closing clickhouse connection", slog.String("profile", a.profile.Name))
	return a.conn.Close()
}

func (a *Adapter) connected() bool {
	return a.conn != nil && !a.closed.Load()
}

// Ping checks that the server is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	if !a.connected() {
		return adapter.ErrNotConnected
	}
	return a.conn.Ping(ctx)
}

// queryContext tags the query with an id so it can be found in system.query_log.
func (a *Adapter) queryContext(ctx context.Context) context.Context {
	id := uuid.NewString()
	a.logger.Debug("clickhouse query", slog.String("query_id", id))
	return clickhouse.Context(ctx, clickhouse.WithQueryID(id))
}

// ListTables lists tables and views of the profile database from system.tables.
func (a *Adapter) ListTables(ctx context.Context) ([]core.TableDescriptor, error) {
	if !a.connected() {
		return nil, adapter.ErrNotConnected
	}

	rows, err := a.conn.Query(a.queryContext(ctx), `
		SELECT database,
		       name,
		       engine,
		       ifNull(toInt64(total_rows), toInt64(-1)),
		       ifNull(toInt64(total_bytes), toInt64(-1))
		FROM system.tables
		WHERE database = ? AND NOT is_temporary
	`, a.profile.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []core.TableDescriptor
	for rows.Next() {
		var (
			t      core.TableDescriptor
			engine string
		)
		if err := rows.Scan(&t.Schema, &t.Name, &engine, &t.EstimatedRowCount, &t.EstimatedSizeBytes); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		t.Kind = core.KindTable
		if strings.HasSuffix(engine, "View") {
			t.Kind = core.KindView
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}

	adapter.SortTables(tables)
	return tables, nil
}

// GetTableSchema reads columns from system.columns. The primary key and data
// skipping indices are reported as indexes.
func (a *Adapter) GetTableSchema(ctx context.Context, table string) (*core.TableSchema, error) {
	if !a.connected() {
		return nil, adapter.ErrNotConnected
	}
	database, name := adapter.ParseQualifiedName(table, a.profile.Database)

	rows, err := a.conn.Query(a.queryContext(ctx), `
		SELECT name, type, position, is_in_primary_key
		FROM system.columns
		WHERE database = ? AND table = ?
		ORDER BY position
	`, database, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []core.ColumnDescriptor
	for rows.Next() {
		var (
			col      core.ColumnDescriptor
			position uint64
			inPK     uint8
		)
		if err := rows.Scan(&col.Name, &col.Type, &position, &inPK); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Position = int(position) //nolint:gosec // column positions are small
		col.IsPrimaryKey = inPK == 1
		col.Nullable = strings.HasPrefix(col.Type, "Nullable(")
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}

	if len(columns) == 0 {
		return nil, &core.NotFoundError{Object: table}
	}

	indexes, err := a.indexes(ctx, database, name)
	if err != nil {
		return nil, err
	}

	return &core.TableSchema{Table: table, Columns: columns, Indexes: indexes}, nil
}

func (a *Adapter) indexes(ctx context.Context, database, table string) ([]core.IndexDescriptor, error) {
	var indexes []core.IndexDescriptor

	var primaryKey, sortingKey string
	err := a.conn.QueryRow(a.queryContext(ctx), `
		SELECT primary_key, sorting_key FROM system.tables WHERE database = ? AND name = ?
	`, database, table).Scan(&primaryKey, &sortingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read table keys: %w", err)
	}
	if primaryKey != "" {
		indexes = append(indexes, core.IndexDescriptor{
			Name:       "PRIMARY KEY",
			Columns:    splitKey(primaryKey),
			Definition: "ORDER BY (" + sortingKey + ")",
		})
	}

	rows, err := a.conn.Query(a.queryContext(ctx), `
		SELECT name, type, expr, granularity
		FROM system.data_skipping_indices
		WHERE database = ? AND table = ?
		ORDER BY name
	`, database, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			name, typ, expr string
			granularity     uint64
		)
		if err := rows.Scan(&name, &typ, &expr, &granularity); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		indexes = append(indexes, core.IndexDescriptor{
			Name:       name,
			Columns:    splitKey(expr),
			Definition: fmt.Sprintf("INDEX %s %s TYPE %s GRANULARITY %d", name, expr, typ, granularity),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating indexes: %w", err)
	}
	return indexes, nil
}

func splitKey(key string) []string {
	parts := strings.Split(key, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EstimateRowCount reads system.tables.total_rows and falls back to count()
// for engines that do not track it.
func (a *Adapter) EstimateRowCount(ctx context.Context, table string) (int64, error) {
	if !a.connected() {
		return 0, adapter.ErrNotConnected
	}
	database, name := adapter.ParseQualifiedName(table, a.profile.Database)

	rows, err := a.conn.Query(a.queryContext(ctx), `
		SELECT ifNull(toInt64(total_rows), toInt64(-1))
		FROM system.tables
		WHERE database = ? AND name = ?
	`, database, name)
	if err != nil {
		return 0, fmt.Errorf("failed to read row estimate: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("failed to read row estimate: %w", err)
		}
		return 0, &core.NotFoundError{Object: table}
	}
	var estimate int64
	if err := rows.Scan(&estimate); err != nil {
		return 0, fmt.Errorf("failed to scan row estimate: %w", err)
	}
	_ = rows.Close()

	if estimate >= 0 {
		return estimate, nil
	}
	return a.CountRows(ctx, table, "")
}

// CountRows returns the exact number of rows matching filter.
func (a *Adapter) CountRows(ctx context.Context, table, filter string) (int64, error) {
	if !a.connected() {
		return 0, adapter.ErrNotConnected
	}
	var n uint64
	if err := a.conn.QueryRow(a.queryContext(ctx), adapter.BuildCountQuery(quote(table), filter)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return int64(n), nil //nolint:gosec // row counts fit in int64
}

// FetchPage returns one window of rows. ClickHouse scans then skips, so large
// offsets are honored but logged.
func (a *Adapter) FetchPage(ctx context.Context, req core.PageRequest) (*core.PageResult, error) {
	if err := adapter.ValidatePageRequest(req); err != nil {
		return nil, err
	}
	if !a.connected() {
		return nil, adapter.ErrNotConnected
	}
	if threshold := a.settings.LargeOffsetWarning; threshold > 0 && req.Offset > threshold {
		a.logger.Warn("large offset on columnar engine scans and discards rows",
			slog.String("table", req.Table),
			slog.Int("offset", req.Offset),
			slog.Int("threshold", threshold))
	}

	res, err := a.query(ctx, adapter.BuildPageQuery(quote(req.Table), req), 0)
	if err != nil {
		return nil, err
	}
	res.Sequence = req.Sequence
	return res, nil
}

// ExecuteRawQuery runs SQL text verbatim. Statements that return no result set
// go through Exec.
func (a *Adapter) ExecuteRawQuery(ctx context.Context, text string) (*core.PageResult, error) {
	if err := adapter.ValidateRawQuery(text); err != nil {
		return nil, err
	}
	if !a.connected() {
		return nil, adapter.ErrNotConnected
	}
	if !returnsRows(text) {
		if err := a.conn.Exec(a.queryContext(ctx), text); err != nil {
			return nil, fmt.Errorf("failed to execute statement: %w", err)
		}
		return &core.PageResult{Columns: []string{}, Rows: [][]any{}}, nil
	}
	return a.query(ctx, text, a.settings.MaxRawRows)
}

// returnsRows reports whether a statement produces a result set.
func returnsRows(text string) bool {
	fields := strings.Fields(strings.TrimLeft(text, "( \t\n"))
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "EXISTS":
		return true
	default:
		return false
	}
}

// query scans rows into values typed by the column scan types.
func (a *Adapter) query(ctx context.Context, q string, limit int) (*core.PageResult, error) {
	rows, err := a.conn.Query(a.queryContext(ctx), q)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	types := rows.ColumnTypes()
	cols := make([]string, len(types))
	for i, ct := range types {
		cols[i] = ct.Name()
	}

	res := &core.PageResult{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if limit > 0 && len(res.Rows) >= limit {
			res.Truncated = true
			break
		}
		ptrs := make([]any, len(types))
		for i, ct := range types {
			ptrs[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		values := make([]any, len(ptrs))
		for i, p := range ptrs {
			values[i] = deref(p)
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	res.RowsReturned = len(res.Rows)
	return res, nil
}

// deref unwraps the scan pointer, mapping nil Nullable values to nil.
func deref(p any) any {
	v := reflect.ValueOf(p).Elem()
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return adapter.NormalizeValue(v.Interface())
}

// ClassifyError maps ClickHouse exception codes into the core error taxonomy.
func (a *Adapter) ClassifyError(err error) error {
	if classified, ok := adapter.ClassifyCommon(err); ok {
		return classified
	}

	var ex *clickhouse.Exception
	if errors.As(err, &ex) {
		switch ex.Code {
		case codeSyntaxError, codeUnknownIdentifier:
			return &core.QuerySyntaxError{Engine: core.EngineClickHouse, Message: ex.Message}
		case codeUnknownTable, codeUnknownDatabase:
			return &core.NotFoundError{Message: ex.Message}
		case codeAuthenticationFailed, codeUnknownUser, codeWrongPassword, codeAccessDenied:
			return &core.ConnectionError{Profile: a.profile.Name, Reason: core.ReasonAuth, Message: ex.Message}
		case codeTimeoutExceeded:
			return &core.TimeoutError{}
		case codeQueryWasCancelled:
			return &core.CancelledError{}
		case codeSocketTimeout, codeNetworkError:
			return &core.ConnectionError{Profile: a.profile.Name, Reason: core.ReasonNetwork, Message: ex.Message}
		case codeNotImplemented, codeUnsupportedMethod:
			return &core.UnsupportedOperationError{Engine: core.EngineClickHouse, Operation: "statement", Message: ex.Message}
		}
		return &core.QuerySyntaxError{Engine: core.EngineClickHouse, Message: ex.Message}
	}

	return adapter.Rejected(core.EngineClickHouse, err)
}

func quote(table string) string {
	return adapter.QuoteQualified(table, adapter.Backtick)
}
