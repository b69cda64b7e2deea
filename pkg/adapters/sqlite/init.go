// Package sqlite provides the embedded SQLite engine adapter for dbrowse.
//
// This file registers the SQLite adapter with the adapter registry.
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/dbrowse/pkg/adapters/sqlite"
package sqlite

import (
	"log/slog"

	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

func init() {
	adapter.Register(core.EngineSQLite, func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
