// Package postgres provides a PostgreSQL engine adapter for dbrowse.
//
// This file registers the PostgreSQL adapter with the adapter registry.
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/dbrowse/pkg/adapters/postgres"
package postgres

import (
	"log/slog"

	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

func init() {
	adapter.Register(core.EnginePostgres, func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
