// Package clickhouse provides a ClickHouse engine adapter for dbrowse.
//
// This file registers the ClickHouse adapter with the adapter registry.
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/dbrowse/pkg/adapters/clickhouse"
package clickhouse

import (
	"log/slog"

	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

func init() {
	adapter.Register(core.EngineClickHouse, func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
