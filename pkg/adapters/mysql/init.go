// Package mysql provides a MySQL and MariaDB engine adapter for dbrowse.
//
// This file registers the MySQL adapter with the adapter registry.
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/dbrowse/pkg/adapters/mysql"
package mysql

import (
	"log/slog"

	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

func init() {
	adapter.Register(core.EngineMySQL, func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
