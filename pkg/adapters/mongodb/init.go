// Package mongodb provides a MongoDB document store adapter for dbrowse.
//
// This file registers the MongoDB adapter with the adapter registry.
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/dbrowse/pkg/adapters/mongodb"
package mongodb

import (
	"log/slog"

	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

func init() {
	adapter.Register(core.EngineMongoDB, func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
