// Package sqlite provides the embedded SQLite engine adapter for dbrowse.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
	"modernc.org/sqlite"
)

const defaultSchema = "main"

// SQLite primary result codes.
const (
	codeError     = 1
	codeBusy      = 5
	codeLocked    = 6
	codeInterrupt = 9
	codeIOErr     = 10
	codeCantOpen  = 14
	codeAuth      = 23
	codeNotADB    = 26
)

// Adapter implements the adapter.Adapter interface for SQLite.
type Adapter struct {
	adapter.BaseSQLAdapter
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a new SQLite adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{BaseSQLAdapter: adapter.NewBase(logger)}
}

// Kind returns core.EngineSQLite.
func (a *Adapter) Kind() core.EngineKind { return core.EngineSQLite }

// Capabilities reports that a SQLite connection serves one call at a time.
func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{MaxConcurrency: 1, Cancellable: true, QueryLanguage: "sql"}
}

// Open opens the database file named by profile.Database. The file must exist.
func (a *Adapter) Open(ctx context.Context, profile core.ConnectionProfile, _ string) error {
	path := profile.Database
	if path == "" {
		return &core.ConnectionError{Profile: profile.Name, Reason: core.ReasonNetwork, Message: "sqlite profile has no database path"}
	}
	if path != ":memory:" {
		if _, err := os.Stat(path); err != nil {
			return &core.ConnectionError{Profile: profile.Name, Reason: core.ReasonNetwork, Message: fmt.Sprintf("database file %s: %v", path, err), Err: err}
		}
	}

	a.Logger.Debug("opening sqlite database", slog.String("path", path))

	db, err := sql.Open("sqlite", buildDSN(profile))
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	a.DB = db
	a.Profile = profile
	return nil
}

// buildDSN appends connection pragmas to the file path.
func buildDSN(profile core.ConnectionProfile) string {
	dsn := profile.Database + "?_pragma=busy_timeout(" + profile.Option("busy_timeout", "5000") + ")"
	if profile.Option("read_only", "") == "true" {
		dsn += "&_pragma=query_only(1)"
	}
	return dsn
}

// ListTables lists tables and views, excluding SQLite's internal tables.
// SQLite keeps no size statistics, so estimates are reported as unknown.
func (a *Adapter) ListTables(ctx context.Context) ([]core.TableDescriptor, error) {
	if !a.IsConnected() {
		return nil, adapter.ErrNotConnected
	}

	rows, err := a.DB.QueryContext(ctx, `
		SELECT name, type
		FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []core.TableDescriptor
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		kind := core.KindTable
		if typ == "view" {
			kind = core.KindView
		}
		tables = append(tables, core.TableDescriptor{
			Schema:             defaultSchema,
			Name:               name,
			Kind:               kind,
			EstimatedRowCount:  -1,
			EstimatedSizeBytes: -1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	adapter.SortTables(tables)
	return tables, nil
}

// GetTableSchema reads columns from pragma_table_info and indexes from pragma_index_list.
func (a *Adapter) GetTableSchema(ctx context.Context, table string) (*core.TableSchema, error) {
	if !a.IsConnected() {
		return nil, adapter.ErrNotConnected
	}
	schema, name := adapter.ParseQualifiedName(table, defaultSchema)

	rows, err := a.DB.QueryContext(ctx, `
		SELECT cid, name, type, "notnull", pk
		FROM pragma_table_info(?, ?)
		ORDER BY cid
	`, name, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []core.ColumnDescriptor
	for rows.Next() {
		var (
			col     core.ColumnDescriptor
			notNull int
			pk      int
		)
		if err := rows.Scan(&col.Position, &col.Name, &col.Type, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Position++
		col.Nullable = notNull == 0 && pk == 0
		col.IsPrimaryKey = pk > 0
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	_ = rows.Close()

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
	rows, err := a.DB.QueryContext(ctx, `SELECT name, "unique" FROM pragma_index_list(?, ?) ORDER BY seq`, table, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}

	var indexes []core.IndexDescriptor
	for rows.Next() {
		var (
			idx    core.IndexDescriptor
			unique int
		)
		if err := rows.Scan(&idx.Name, &unique); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		idx.Unique = unique == 1
		indexes = append(indexes, idx)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating indexes: %w", err)
	}

	// The pool holds a single connection, so index details are read after the
	// list cursor is closed.
	for i := range indexes {
		cols, err := a.indexColumns(ctx, schema, indexes[i].Name)
		if err != nil {
			return nil, err
		}
		indexes[i].Columns = cols

		var def sql.NullString
		//nolint:gosec // schema name is quoted
		q := fmt.Sprintf("SELECT sql FROM %s.sqlite_master WHERE type = 'index' AND name = ?", adapter.QuoteIdent(schema, adapter.DoubleQuote))
		if err := a.DB.QueryRowContext(ctx, q, indexes[i].Name).Scan(&def); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to read index definition: %w", err)
		}
		indexes[i].Definition = def.String
	}
	return indexes, nil
}

func (a *Adapter) indexColumns(ctx context.Context, schema, index string) ([]string, error) {
	rows, err := a.DB.QueryContext(ctx, `SELECT name FROM pragma_index_info(?, ?) ORDER BY seqno`, index, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to read index columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan index column: %w", err)
		}
		if name.Valid {
			cols = append(cols, name.String)
		} else {
			cols = append(cols, "<expr>")
		}
	}
	return cols, rows.Err()
}

// EstimateRowCount reads sqlite_stat1 when ANALYZE has populated it and
// otherwise falls back to COUNT(*).
func (a *Adapter) EstimateRowCount(ctx context.Context, table string) (int64, error) {
	if !a.IsConnected() {
		return 0, adapter.ErrNotConnected
	}
	_, name := adapter.ParseQualifiedName(table, defaultSchema)

	var stat string
	err := a.DB.QueryRowContext(ctx, `SELECT stat FROM sqlite_stat1 WHERE tbl = ? LIMIT 1`, name).Scan(&stat)
	if err == nil {
		if fields := strings.Fields(stat); len(fields) > 0 {
			var n int64
			if _, scanErr := fmt.Sscan(fields[0], &n); scanErr == nil {
				return n, nil
			}
		}
	} else if ctx.Err() != nil {
		return 0, ctx.Err()
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

// ClassifyError maps SQLite result codes into the core error taxonomy.
func (a *Adapter) ClassifyError(err error) error {
	if classified, ok := adapter.ClassifyCommon(err); ok {
		return classified
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		msg := sqliteErr.Error()
		switch sqliteErr.Code() & 0xff {
		case codeError:
			if strings.Contains(msg, "no such table") {
				return &core.NotFoundError{Object: "table", Message: msg}
			}
			if strings.Contains(msg, "no such column") {
				return &core.QuerySyntaxError{Engine: core.EngineSQLite, Message: msg}
			}
		case codeInterrupt:
			return &core.CancelledError{}
		case codeBusy, codeLocked:
			return &core.UnsupportedOperationError{Engine: core.EngineSQLite, Operation: "concurrent access", Message: msg}
		case codeIOErr, codeCantOpen, codeNotADB:
			return &core.ConnectionError{Profile: a.Profile.Name, Reason: core.ReasonNetwork, Message: msg}
		case codeAuth:
			return &core.ConnectionError{Profile: a.Profile.Name, Reason: core.ReasonAuth, Message: msg}
		}
		return &core.QuerySyntaxError{Engine: core.EngineSQLite, Message: msg}
	}

	return adapter.Rejected(core.EngineSQLite, err)
}

func quote(table string) string {
	return adapter.QuoteQualified(table, adapter.DoubleQuote)
}
