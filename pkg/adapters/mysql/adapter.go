// Package mysql provides a MySQL and MariaDB engine adapter for dbrowse.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// MySQL server error numbers.
const (
	errDBAccessDenied    = 1044
	errAccessDenied      = 1045
	errBadDB             = 1049
	errTableAccessDenied = 1142
	errNoSuchTable       = 1146
	errNotSupportedYet   = 1235
	errQueryInterrupted  = 1317
	errQueryTimeout      = 3024
)

// Adapter implements the adapter.Adapter interface for MySQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a new MySQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{BaseSQLAdapter: adapter.NewBase(logger)}
}

// Kind returns core.EngineMySQL.
func (a *Adapter) Kind() core.EngineKind { return core.EngineMySQL }

// Capabilities reports the MySQL limits.
func (a *Adapter) Capabilities() adapter.Capabilities {
	n := a.Settings.MaxConcurrency
	if n <= 0 {
		n = 4
	}
	return adapter.Capabilities{MaxConcurrency: n, Cancellable: true, QueryLanguage: "sql"}
}

// Open establishes a connection to MySQL.
func (a *Adapter) Open(ctx context.Context, profile core.ConnectionProfile, password string) error {
	cfg, err := buildConfig(profile, password)
	if err != nil {
		return err
	}

	a.Logger.Debug("connecting to mysql", slog.String("addr", cfg.Addr), slog.String("database", cfg.DBName))

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return fmt.Errorf("failed to create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(a.Capabilities().MaxConcurrency)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping mysql: %w", err)
	}

	a.DB = db
	a.Profile = profile
	return nil
}

// buildConfig turns a profile into a driver configuration.
func buildConfig(profile core.ConnectionProfile, password string) (*mysql.Config, error) {
	cfg := mysql.NewConfig()
	cfg.User = profile.Username
	if cfg.User == "" {
		cfg.User = "root"
	}
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = profile.Address()
	cfg.DBName = profile.Database

	timeout, err := time.ParseDuration(profile.Option("timeout", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid mysql timeout option: %w", err)
	}
	cfg.Timeout = timeout

	if tls := profile.Option("tls", ""); tls != "" {
		cfg.TLSConfig = tls
	}
	for k, v := range profile.Options {
		switch k {
		case "timeout", "tls":
		default:
			if cfg.Params == nil {
				cfg.Params = map[string]string{}
			}
			cfg.Params[k] = v
		}
	}
	return cfg, nil
}

// schemaClause returns a predicate on col selecting the schema of table, or
// the connection's current database when the table is unqualified and the
// profile names none.
func (a *Adapter) schemaClause(col, table string) (string, []any, string) {
	schema, name := adapter.ParseQualifiedName(table, a.Profile.Database)
	if schema == "" {
		return col + " = DATABASE()", nil, name
	}
	return col + " = ?", []any{schema}, name
}

// ListTables lists base tables and views of the current database with
// information_schema size estimates.
func (a *Adapter) ListTables(ctx context.Context) ([]core.TableDescriptor, error) {
	if !a.IsConnected() {
		return nil, adapter.ErrNotConnected
	}
	where, args, _ := a.schemaClause("table_schema", "")

	//nolint:gosec // predicate is built from constants
	query := fmt.Sprintf(`
		SELECT table_schema,
		       table_name,
		       table_type,
		       COALESCE(table_rows, -1),
		       COALESCE(data_length + index_length, -1)
		FROM information_schema.tables
		WHERE %s
	`, where)

	rows, err := a.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []core.TableDescriptor
	for rows.Next() {
		var (
			t   core.TableDescriptor
			typ string
		)
		if err := rows.Scan(&t.Schema, &t.Name, &typ, &t.EstimatedRowCount, &t.EstimatedSizeBytes); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		t.Kind = core.KindTable
		if typ == "VIEW" || typ == "SYSTEM VIEW" {
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

// GetTableSchema retrieves columns and indexes from information_schema.
func (a *Adapter) GetTableSchema(ctx context.Context, table string) (*core.TableSchema, error) {
	if !a.IsConnected() {
		return nil, adapter.ErrNotConnected
	}
	where, args, name := a.schemaClause("table_schema", table)
	args = append(args, name)

	//nolint:gosec // predicate is built from constants
	rows, err := a.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT column_name, column_type, is_nullable, ordinal_position, column_key
		FROM information_schema.columns
		WHERE %s AND table_name = ?
		ORDER BY ordinal_position
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []core.ColumnDescriptor
	for rows.Next() {
		var (
			col      core.ColumnDescriptor
			nullable string
			key      string
		)
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position, &key); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		col.IsPrimaryKey = key == "PRI"
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}

	if len(columns) == 0 {
		return nil, &core.NotFoundError{Object: table}
	}

	indexes, err := a.indexes(ctx, where, args)
	if err != nil {
		return nil, err
	}

	return &core.TableSchema{Table: table, Columns: columns, Indexes: indexes}, nil
}

func (a *Adapter) indexes(ctx context.Context, where string, args []any) ([]core.IndexDescriptor, error) {
	//nolint:gosec // predicate is built from constants
	rows, err := a.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT index_name, non_unique, column_name, index_type
		FROM information_schema.statistics
		WHERE %s AND table_name = ?
		ORDER BY index_name, seq_in_index
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var indexes []core.IndexDescriptor
	for rows.Next() {
		var (
			name, indexType string
			nonUnique       int
			column          sql.NullString
		)
		if err := rows.Scan(&name, &nonUnique, &column, &indexType); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		if n := len(indexes); n == 0 || indexes[n-1].Name != name {
			indexes = append(indexes, core.IndexDescriptor{Name: name, Unique: nonUnique == 0, Definition: indexType})
		}
		if column.Valid {
			last := &indexes[len(indexes)-1]
			last.Columns = append(last.Columns, column.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating indexes: %w", err)
	}
	return indexes, nil
}

// EstimateRowCount reads information_schema.tables.table_rows and falls back to
// COUNT(*) when no statistic exists.
func (a *Adapter) EstimateRowCount(ctx context.Context, table string) (int64, error) {
	if !a.IsConnected() {
		return 0, adapter.ErrNotConnected
	}
	where, args, name := a.schemaClause("table_schema", table)
	args = append(args, name)

	var estimate sql.NullInt64
	//nolint:gosec // predicate is built from constants
	err := a.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT table_rows FROM information_schema.tables WHERE %s AND table_name = ?
	`, where), args...).Scan(&estimate)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &core.NotFoundError{Object: table}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read row estimate: %w", err)
	}
	if estimate.Valid && estimate.Int64 > 0 {
		return estimate.Int64, nil
	}
	return a.CountRows(ctx, table, "")
}

// CountRows returns the exact number of rows matching filter.
func (a *Adapter) CountRows(ctx context.Context, table, filter string) (int64, error) {
	return a.QueryCount(ctx, adapter.BuildCountQuery(quote(table), filter))
}

// FetchPage returns one window of rows using LIMIT/OFFSET.
func (a *Adapter) FetchPage(ctx context.Context, req core.PageRequest) (*core.PageResult, error) {
	if err := adapter.ValidatePageRequest(req); err != nil {
		return nil, err
	}
	res, err := a.QueryPage(ctx, 0, adapter.BuildPageQuery(quote(req.Table), req))
	if err != nil {
		return nil, err
	}
	res.Sequence = req.Sequence
	return res, nil
}

// ExecuteRawQuery runs SQL text verbatim.
func (a *Adapter) ExecuteRawQuery(ctx context.Context, text string) (*core.PageResult, error) {
	return a.ExecuteRaw(ctx, text)
}

// ClassifyError maps MySQL error numbers into the core error taxonomy.
func (a *Adapter) ClassifyError(err error) error {
	if classified, ok := adapter.ClassifyCommon(err); ok {
		return classified
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return &core.ConnectionError{Profile: a.Profile.Name, Reason: core.ReasonNetwork, Message: err.Error()}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errNoSuchTable, errBadDB:
			return &core.NotFoundError{Message: myErr.Message}
		case errAccessDenied, errDBAccessDenied, errTableAccessDenied:
			return &core.ConnectionError{Profile: a.Profile.Name, Reason: core.ReasonAuth, Message: myErr.Message}
		case errQueryInterrupted:
			return &core.CancelledError{}
		case errQueryTimeout:
			return &core.TimeoutError{}
		case errNotSupportedYet:
			return &core.UnsupportedOperationError{Engine: core.EngineMySQL, Operation: "statement", Message: myErr.Message}
		}
		return &core.QuerySyntaxError{Engine: core.EngineMySQL, Message: myErr.Message}
	}

	return adapter.Rejected(core.EngineMySQL, err)
}

func quote(table string) string {
	return adapter.QuoteQualified(table, adapter.Backtick)
}
