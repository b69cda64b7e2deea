package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// ErrNotConnected is returned when an adapter is used before Open or after Close.
var ErrNotConnected = errors.New("database connection not established")

// BaseSQLAdapter holds the database/sql handle shared by the SQL adapters.
// Embed this struct to get standard Close, Ping and Configure implementations.
// It carries no dialect behaviour: filters, sorting and catalog queries stay in
// each concrete adapter.
//
// DB is set once by Open and never cleared, so Close may run while other
// calls are still using it; those calls fail with a driver error.
type BaseSQLAdapter struct {
	DB       *sql.DB
	Profile  core.ConnectionProfile
	Settings Settings
	Logger   *slog.Logger

	closed atomic.Bool
}

// NewBase returns a base with default settings and a non-nil logger.
func NewBase(logger *slog.Logger) BaseSQLAdapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return BaseSQLAdapter{Settings: DefaultSettings(), Logger: logger}
}

// Configure applies shared settings.
func (b *BaseSQLAdapter) Configure(s Settings) {
	b.Settings = s
}

// Close closes the database connection. It is safe to call concurrently with
// queries and more than once.
func (b *BaseSQLAdapter) Close() error {
	if b.DB == nil || !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.Logger != nil {
		b.Logger.Debug("closing database connection", slog.String("profile", b.Profile.Name))
	}
	return b.DB.Close()
}

// Ping checks that the database is reachable.
func (b *BaseSQLAdapter) Ping(ctx context.Context) error {
	if !b.IsConnected() {
		return ErrNotConnected
	}
	return b.DB.PingContext(ctx)
}

// IsConnected returns true if the database connection is established and not closed.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil && !b.closed.Load()
}

// QueryPage runs a row-returning query and scans at most limit rows (0 means all).
func (b *BaseSQLAdapter) QueryPage(ctx context.Context, limit int, query string, args ...any) (*core.PageResult, error) {
	if !b.IsConnected() {
		return nil, ErrNotConnected
	}
	rows, err := b.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, data, truncated, err := ScanRows(rows, limit)
	if err != nil {
		return nil, err
	}
	return &core.PageResult{
		Columns:      cols,
		Rows:         data,
		RowsReturned: len(data),
		Truncated:    truncated,
	}, nil
}

// ExecuteRaw runs text verbatim, keeping at most Settings.MaxRawRows rows.
// Statements without a result set return an empty column list.
func (b *BaseSQLAdapter) ExecuteRaw(ctx context.Context, text string) (*core.PageResult, error) {
	if err := ValidateRawQuery(text); err != nil {
		return nil, err
	}
	return b.QueryPage(ctx, b.Settings.MaxRawRows, text)
}

// QueryCount runs a single-value count query.
func (b *BaseSQLAdapter) QueryCount(ctx context.Context, query string, args ...any) (int64, error) {
	if !b.IsConnected() {
		return 0, ErrNotConnected
	}
	var n sql.NullInt64
	if err := b.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n.Int64, nil
}
