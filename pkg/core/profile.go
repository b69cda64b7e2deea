package core

import (
	"fmt"
	"slices"
)

// EngineKind identifies a database engine family.
type EngineKind string

// Supported engine kinds.
const (
	EnginePostgres   EngineKind = "postgres"
	EngineMySQL      EngineKind = "mysql"
	EngineSQLite     EngineKind = "sqlite"
	EngineMongoDB    EngineKind = "mongodb"
	EngineClickHouse EngineKind = "clickhouse"
)

// EngineKinds returns every engine kind dbrowse knows how to browse.
func EngineKinds() []EngineKind {
	return []EngineKind{EnginePostgres, EngineMySQL, EngineSQLite, EngineMongoDB, EngineClickHouse}
}

// Valid reports whether k is one of the known engine kinds.
func (k EngineKind) Valid() bool {
	return slices.Contains(EngineKinds(), k)
}

// DefaultPort returns the conventional port for the engine, or 0 for file-based engines.
func (k EngineKind) DefaultPort() int {
	switch k {
	case EnginePostgres:
		return 5432
	case EngineMySQL:
		return 3306
	case EngineMongoDB:
		return 27017
	case EngineClickHouse:
		return 9000
	default:
		return 0
	}
}

// IsRelational reports whether the engine speaks SQL.
func (k EngineKind) IsRelational() bool {
	return k != EngineMongoDB
}

// ConnectionProfile is a saved, immutable description of how to reach a database.
// Profiles are identified by Name; at most one live connection exists per profile.
type ConnectionProfile struct {
	Name     string
	Engine   EngineKind
	Host     string
	Port     int
	Database string // file path for sqlite
	Username string

	// SecretRef names the credential: literal:TEXT, env:NAME, file:PATH, or a
	// password with ${ENV_VAR} expansion.
	SecretRef string

	// Options are driver string options (sslmode, authSource, ...).
	Options map[string]string

	// Params hold structured engine-specific settings decoded by the adapter.
	Params map[string]any
}

// Option returns the named driver option, or def when unset.
func (p ConnectionProfile) Option(name, def string) string {
	if v, ok := p.Options[name]; ok && v != "" {
		return v
	}
	return def
}

// Address returns host:port using the engine's default port when none is set.
func (p ConnectionProfile) Address() string {
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	port := p.Port
	if port == 0 {
		port = p.Engine.DefaultPort()
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// String renders the profile without credentials, for logs and status lines.
func (p ConnectionProfile) String() string {
	if p.Engine == EngineSQLite {
		return fmt.Sprintf("%s (sqlite %s)", p.Name, p.Database)
	}
	return fmt.Sprintf("%s (%s %s/%s)", p.Name, p.Engine, p.Address(), p.Database)
}
