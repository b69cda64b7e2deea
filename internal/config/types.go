// Package config provides layered configuration for dbrowse.
//
// Values are read from defaults, a dbrowse.yaml file, DBROWSE_* environment
// variables and explicitly set command-line flags, in increasing priority.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// Config holds all dbrowse configuration options.
type Config struct {
	Query        QueryConfig                 `koanf:"query"`
	Page         PageConfig                  `koanf:"page"`
	Pool         PoolConfig                  `koanf:"pool"`
	Connections  map[string]ConnectionConfig `koanf:"connections"`
	Verbose      bool                        `koanf:"verbose"`
	OutputFormat string                      `koanf:"output"`
}

// QueryConfig bounds individual adapter calls.
type QueryConfig struct {
	Timeout    time.Duration `koanf:"timeout"`
	MaxRawRows int           `koanf:"max_raw_rows"`
}

// PageConfig holds pagination defaults.
type PageConfig struct {
	Size               int `koanf:"size"`
	LargeOffsetWarning int `koanf:"large_offset_warning"`
}

// PoolConfig tunes live connections.
type PoolConfig struct {
	// MaxOpen caps in-flight calls per connection for engines that allow more than one.
	MaxOpen     int           `koanf:"max_open"`
	IdleTimeout time.Duration `koanf:"idle_timeout"`
}

// ConnectionConfig is one saved connection under the connections: key.
type ConnectionConfig struct {
	Engine   string            `koanf:"engine"`
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port"`
	Database string            `koanf:"database"`
	User     string            `koanf:"user"`
	Secret   string            `koanf:"secret"`
	Options  map[string]string `koanf:"options"`
	Params   map[string]any    `koanf:"params"`
}

// Profile converts the saved connection into a core.ConnectionProfile.
func (c ConnectionConfig) Profile(name string) core.ConnectionProfile {
	return core.ConnectionProfile{
		Name:      name,
		Engine:    core.EngineKind(strings.ToLower(c.Engine)),
		Host:      c.Host,
		Port:      c.Port,
		Database:  c.Database,
		Username:  c.User,
		SecretRef: c.Secret,
		Options:   c.Options,
		Params:    c.Params,
	}
}

// AdapterSettings returns the settings shared by every adapter.
func (c *Config) AdapterSettings() adapter.Settings {
	return adapter.Settings{
		MaxRawRows:         c.Query.MaxRawRows,
		LargeOffsetWarning: c.Page.LargeOffsetWarning,
		MaxConcurrency:     c.Pool.MaxOpen,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Query.Timeout <= 0 {
		return fmt.Errorf("query.timeout must be positive, got %s", c.Query.Timeout)
	}
	if c.Query.MaxRawRows <= 0 {
		return fmt.Errorf("query.max_raw_rows must be positive, got %d", c.Query.MaxRawRows)
	}
	if c.Page.Size <= 0 {
		return fmt.Errorf("page.size must be positive, got %d", c.Page.Size)
	}
	if c.Pool.MaxOpen < 0 {
		return fmt.Errorf("pool.max_open must not be negative, got %d", c.Pool.MaxOpen)
	}
	for name, conn := range c.Connections {
		if err := conn.Validate(); err != nil {
			return fmt.Errorf("connection %q: %w", name, err)
		}
	}
	return nil
}

// Validate checks a saved connection.
func (c ConnectionConfig) Validate() error {
	if c.Engine == "" {
		return fmt.Errorf("engine is required")
	}
	kind := core.EngineKind(strings.ToLower(c.Engine))
	if !kind.Valid() {
		names := make([]string, 0, len(core.EngineKinds()))
		for _, k := range core.EngineKinds() {
			names = append(names, string(k))
		}
		return fmt.Errorf("unknown engine %q (available: %s)", c.Engine, strings.Join(names, ", "))
	}
	if kind == core.EngineSQLite && c.Database == "" {
		return fmt.Errorf("sqlite connections need a database file path")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}
