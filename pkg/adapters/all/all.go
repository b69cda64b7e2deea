// Package all registers every engine adapter shipped with dbrowse.
//
//	import _ "github.com/leapstack-labs/dbrowse/pkg/adapters/all"
package all

import (
	// Engine adapters register themselves in init().
	_ "github.com/leapstack-labs/dbrowse/pkg/adapters/clickhouse"
	_ "github.com/leapstack-labs/dbrowse/pkg/adapters/mongodb"
	_ "github.com/leapstack-labs/dbrowse/pkg/adapters/mysql"
	_ "github.com/leapstack-labs/dbrowse/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/dbrowse/pkg/adapters/sqlite"
)
