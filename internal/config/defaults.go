package config

import "time"

// Default configuration values.
const (
	DefaultQueryTimeout       = 30 * time.Second
	DefaultMaxRawRows         = 1000
	DefaultPageSize           = 10
	DefaultLargeOffsetWarning = 100000
	DefaultMaxOpen            = 4
	DefaultIdleTimeout        = 10 * time.Minute
	DefaultOutput             = "auto" // Auto-detect: TTY=table, non-TTY=plain
)

// Default returns a Config holding only default values.
func Default() *Config {
	return &Config{
		Query: QueryConfig{Timeout: DefaultQueryTimeout, MaxRawRows: DefaultMaxRawRows},
		Page:  PageConfig{Size: DefaultPageSize, LargeOffsetWarning: DefaultLargeOffsetWarning},
		Pool:  PoolConfig{MaxOpen: DefaultMaxOpen, IdleTimeout: DefaultIdleTimeout},

		OutputFormat: DefaultOutput,
	}
}

func defaultValues() map[string]interface{} {
	return map[string]interface{}{
		"query.timeout":             DefaultQueryTimeout.String(),
		"query.max_raw_rows":        DefaultMaxRawRows,
		"page.size":                 DefaultPageSize,
		"page.large_offset_warning": DefaultLargeOffsetWarning,
		"pool.max_open":             DefaultMaxOpen,
		"pool.idle_timeout":         DefaultIdleTimeout.String(),
		"verbose":                   false,
		"output":                    DefaultOutput,
	}
}
