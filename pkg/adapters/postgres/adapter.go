// Package postgres provides a PostgreSQL engine adapter for dbrowse.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

const defaultSchema = "public"

// Adapter implements the adapter.Adapter interface for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a new PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{BaseSQLAdapter: adapter.NewBase(logger)}
}

// Kind returns core.EnginePostgres.
func (a *Adapter) Kind() core.EngineKind { return core.EnginePostgres }

// Capabilities reports the PostgreSQL limits.
func (a *Adapter) Capabilities() adapter.Capabilities {
	n := a.Settings.MaxConcurrency
	if n <= 0 {
		n = 4
	}
	return adapter.Capabilities{MaxConcurrency: n, Cancellable: true, QueryLanguage: "sql"}
}

// Open establishes a connection to PostgreSQL.
func (a *Adapter) Open(ctx context.Context, profile core.ConnectionProfile, password string) error {
	dsn := buildPostgresDSN(profile, password)

	a.Logger.Debug("connecting to postgres", slog.String("host", profile.Host), slog.String("database", profile.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(a.Capabilities().MaxConcurrency)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Profile = profile
	return nil
}

// buildPostgresDSN constructs a PostgreSQL connection string.
func buildPostgresDSN(profile core.ConnectionProfile, password string) string {
	// Build key=value format: host=localhost port=5432 user=postgres ...
	host := profile.Host
	if host == "" {
		host = "localhost"
	}

	port := profile.Port
	if port == 0 {
		port = core.EnginePostgres.DefaultPort()
	}

	database := profile.Database
	if database == "" {
		database = "postgres"
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		dsnValue(host), port, dsnValue(database), dsnValue(profile.Option("sslmode", "disable")))

	if profile.Username != "" {
		dsn += " user=" + dsnValue(profile.Username)
	}
	if password != "" {
		dsn += " password=" + dsnValue(password)
	}
	if v := profile.Option("connect_timeout", ""); v != "" {
		dsn += " connect_timeout=" + dsnValue(v)
	}
	dsn += " application_name=" + dsnValue(profile.Option("application_name", "dbrowse"))

	return dsn
}

// dsnValue quotes a keyword/value connection string value when needed.
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func (a *Adapter) schema() string {
	return a.Profile.Option("schema", defaultSchema)
}

// ListTables lists ordinary, partitioned and materialized tables and views of
// the profile schema with catalog size estimates.
func (a *Adapter) ListTables(ctx context.Context) ([]core.TableDescriptor, error) {
	if !a.IsConnected() {
		return nil, adapter.ErrNotConnected
	}

	rows, err := a.DB.QueryContext(ctx, `
		SELECT n.nspname,
		       c.relname,
		       c.relkind,
		       c.reltuples::bigint,
		       pg_total_relation_size(c.oid)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('r', 'p', 'v', 'm')
		  AND n.nspname = $1
	`, a.schema())
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []core.TableDescriptor
	for rows.Next() {
		var (
			t    core.TableDescriptor
			kind string
		)
		if err := rows.Scan(&t.Schema, &t.Name, &kind, &t.EstimatedRowCount, &t.EstimatedSizeBytes); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		t.Kind = core.KindTable
		if kind == "v" || kind == "m" {
			t.Kind = core.KindView
		}
		if t.EstimatedRowCount < 0 {
			t.EstimatedRowCount = -1
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}

	adapter.SortTables(tables)
	return tables, nil
}

// GetTableSchema retrieves columns from information_schema and indexes from pg_index.
func (a *Adapter) GetTableSchema(ctx context.Context, table string) (*core.TableSchema, error) {
	if !a.IsConnected() {
		return nil, adapter.ErrNotConnected
	}
	schema, name := adapter.ParseQualifiedName(table, a.schema())

	rows, err := a.DB.QueryContext(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable,
			c.ordinal_position,
			EXISTS (
				SELECT 1
				FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage k
				  ON k.constraint_name = tc.constraint_name
				 AND k.table_schema = tc.table_schema
				 AND k.table_name = tc.table_name
				WHERE tc.constraint_type = 'PRIMARY KEY'
				  AND tc.table_schema = c.table_schema
				  AND tc.table_name = c.table_name
				  AND k.column_name = c.column_name
			)
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []core.ColumnDescriptor
	for rows.Next() {
		var col core.ColumnDescriptor
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position, &col.IsPrimaryKey); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}

	if len(columns) == 0 {
		return nil, &core.NotFoundError{Object: table}
	}

	indexes, err := a.indexes(ctx, schema, name)
	if err != nil {
		return nil, err
	}

	return &core.TableSchema{Table: table, Columns: columns, Indexes: indexes}, nil
}

func (a *Adapter) indexes(ctx context.Context, schema, table string) ([]core.IndexDescriptor, error) {
	rows, err := a.DB.QueryContext(ctx, `
		SELECT
			i.relname,
			ix.indisunique,
			pg_get_indexdef(ix.indexrelid),
			array_to_string(ARRAY(
				SELECT a.attname
				FROM unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			), ',')
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname = $1 AND t.relname = $2
		ORDER BY i.relname
	`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var indexes []core.IndexDescriptor
	for rows.Next() {
		var (
			idx  core.IndexDescriptor
			cols string
		)
		if err := rows.Scan(&idx.Name, &idx.Unique, &idx.Definition, &cols); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		if cols != "" {
			idx.Columns = strings.Split(cols, ",")
		}
		indexes = append(indexes, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating indexes: %w", err)
	}
	return indexes, nil
}

// EstimateRowCount reads pg_class.reltuples and falls back to COUNT(*) when
// the table has never been analyzed.
func (a *Adapter) EstimateRowCount(ctx context.Context, table string) (int64, error) {
	if !a.IsConnected() {
		return 0, adapter.ErrNotConnected
	}
	schema, name := adapter.ParseQualifiedName(table, a.schema())

	var estimate int64
	err := a.DB.QueryRowContext(ctx, `
		SELECT c.reltuples::bigint
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
	`, schema, name).Scan(&estimate)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &core.NotFoundError{Object: table}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read row estimate: %w", err)
	}
	if estimate > 0 {
		return estimate, nil
	}
	return a.CountRows(ctx, table, "")
}

// CountRows returns the exact number of rows matching filter.
func (a *Adapter) CountRows(ctx context.Context, table, filter string) (int64, error) {
	return a.QueryCount(ctx, adapter.BuildCountQuery(a.quote(table), filter))
}

// FetchPage returns one window of rows using LIMIT/OFFSET.
func (a *Adapter) FetchPage(ctx context.Context, req core.PageRequest) (*core.PageResult, error) {
	if err := adapter.ValidatePageRequest(req); err != nil {
		return nil, err
	}
	res, err := a.QueryPage(ctx, 0, adapter.BuildPageQuery(a.quote(req.Table), req))
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

// quote qualifies unqualified names with the profile schema.
func (a *Adapter) quote(table string) string {
	schema, name := adapter.ParseQualifiedName(table, a.schema())
	return adapter.QuoteIdent(schema, adapter.DoubleQuote) + "." + adapter.QuoteIdent(name, adapter.DoubleQuote)
}

// ClassifyError maps SQLSTATE codes into the core error taxonomy.
func (a *Adapter) ClassifyError(err error) error {
	if classified, ok := adapter.ClassifyCommon(err); ok {
		return classified
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(a.Profile.Name, pgErr.Code, pgErr.Message)
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return &core.ConnectionError{Profile: a.Profile.Name, Reason: core.ReasonNetwork, Message: adapter.RootMessage(err)}
	}

	return adapter.Rejected(core.EnginePostgres, err)
}

func classifySQLState(profile, code, msg string) error {
	switch {
	case code == "42P01", code == "3F000", code == "3D000":
		return &core.NotFoundError{Message: msg}
	case code == "57014":
		return &core.CancelledError{}
	case code == "0A000":
		return &core.UnsupportedOperationError{Engine: core.EnginePostgres, Operation: "statement", Message: msg}
	case strings.HasPrefix(code, "28"):
		return &core.ConnectionError{Profile: profile, Reason: core.ReasonAuth, Message: msg}
	case strings.HasPrefix(code, "08"), code == "57P01", code == "57P02", code == "57P03":
		return &core.ConnectionError{Profile: profile, Reason: core.ReasonNetwork, Message: msg}
	default:
		return &core.QuerySyntaxError{Engine: core.EnginePostgres, Message: msg}
	}
}
