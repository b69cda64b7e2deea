// Package adapter provides the engine adapter contract for dbrowse.
//
// This package contains the public contract that every engine adapter must
// implement, the registry mapping engine kinds to constructors, and small
// SQL helpers the relational adapters may call.
// Concrete adapter implementations are in pkg/adapters/ subdirectories.
package adapter

import (
	"context"

	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// Adapter defines the interface that all engine adapters must implement.
//
// Every method that talks to the backend takes a context; cancelling it is a
// best-effort request that the driver abandon the call.
// Errors returned by adapter methods may be driver specific. Callers map them
// into the core error taxonomy through ClassifyError.
type Adapter interface {
	// Open connects to the database described by profile.
	Open(ctx context.Context, profile core.ConnectionProfile, password string) error

	// Close closes the connection and releases resources.
	Close() error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Kind returns the engine kind this adapter serves.
	Kind() core.EngineKind

	// Capabilities describes how the adapter may be driven.
	Capabilities() Capabilities

	// ListTables lists tables or collections with their size estimates.
	ListTables(ctx context.Context) ([]core.TableDescriptor, error)

	// GetTableSchema returns the columns and indexes of a table.
	GetTableSchema(ctx context.Context, table string) (*core.TableSchema, error)

	// EstimateRowCount returns a fast, possibly approximate, row count.
	EstimateRowCount(ctx context.Context, table string) (int64, error)

	// CountRows returns the exact number of rows matching filter. It may be slow.
	CountRows(ctx context.Context, table, filter string) (int64, error)

	// FetchPage returns one window of rows.
	FetchPage(ctx context.Context, req core.PageRequest) (*core.PageResult, error)

	// ExecuteRawQuery runs text verbatim and materializes its result set,
	// bounded by the adapter's safety cap.
	ExecuteRawQuery(ctx context.Context, text string) (*core.PageResult, error)

	// ClassifyError maps a driver error into the core error taxonomy.
	ClassifyError(err error) error
}

// Capabilities describes per-engine limits the connection layer must respect.
type Capabilities struct {
	// MaxConcurrency is the number of in-flight calls one live connection accepts.
	MaxConcurrency int

	// Cancellable is true when the driver aborts running queries on context cancellation.
	Cancellable bool

	// QueryLanguage names what ExecuteRawQuery accepts ("sql" or "mongodb-command").
	QueryLanguage string
}

// Settings are tunables shared by all adapters.
type Settings struct {
	// MaxRawRows caps how many rows ExecuteRawQuery materializes.
	MaxRawRows int

	// LargeOffsetWarning is the offset beyond which scan-then-skip engines log a warning.
	LargeOffsetWarning int

	// MaxConcurrency overrides the adapter's default connection concurrency when > 0.
	MaxConcurrency int
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		MaxRawRows:         1000,
		LargeOffsetWarning: 100000,
	}
}

// Configurable is implemented by adapters that accept shared settings before Open.
type Configurable interface {
	Configure(s Settings)
}
