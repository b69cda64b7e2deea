package clickhouse

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// Params holds ClickHouse-specific configuration.
// Parsed from core.ConnectionProfile.Params using mapstructure.
type Params struct {
	// Settings are sent with every query (e.g., max_threads, readonly).
	Settings map[string]any `mapstructure:"settings"`

	// Compression is the native protocol compression: "lz4", "zstd" or "none".
	Compression string `mapstructure:"compression"`

	// Secure enables TLS.
	Secure bool `mapstructure:"secure"`

	// DialTimeout bounds connection establishment (e.g., "10s").
	DialTimeout string `mapstructure:"dial_timeout"`

	// MaxExecutionTime is the server-side query limit in seconds.
	MaxExecutionTime int `mapstructure:"max_execution_time"`
}

// decodeParams reads Params from the profile, applying defaults.
func decodeParams(raw map[string]any) (Params, error) {
	p := Params{
		Compression:      "lz4",
		DialTimeout:      "10s",
		MaxExecutionTime: 60,
	}
	if len(raw) == 0 {
		return p, nil
	}
	if err := mapstructure.WeakDecode(raw, &p); err != nil {
		return p, fmt.Errorf("invalid clickhouse params: %w", err)
	}
	return p, nil
}

// buildOptions turns a profile into native driver options.
func buildOptions(profile core.ConnectionProfile, password string, maxConns int) (*clickhouse.Options, error) {
	p, err := decodeParams(profile.Params)
	if err != nil {
		return nil, err
	}

	dial, err := time.ParseDuration(p.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid clickhouse dial_timeout: %w", err)
	}

	database := profile.Database
	if database == "" {
		database = "default"
	}
	username := profile.Username
	if username == "" {
		username = "default"
	}

	settings := clickhouse.Settings{"max_execution_time": p.MaxExecutionTime}
	for k, v := range p.Settings {
		settings[k] = v
	}

	opts := &clickhouse.Options{
		Addr: []string{profile.Address()},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings:        settings,
		DialTimeout:     dial,
		MaxOpenConns:    maxConns,
		MaxIdleConns:    maxConns,
		ConnMaxLifetime: time.Hour,
	}

	switch p.Compression {
	case "", "none":
	case "lz4":
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	case "zstd":
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionZSTD}
	default:
		return nil, fmt.Errorf("unknown clickhouse compression %q", p.Compression)
	}

	if p.Secure {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}
