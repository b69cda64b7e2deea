package mongodb

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// Params holds MongoDB-specific configuration.
// Parsed from core.ConnectionProfile.Params using mapstructure.
type Params struct {
	// SRV resolves the host through a DNS seed list (mongodb+srv).
	SRV bool `mapstructure:"srv"`

	// AppName is reported to the server in the handshake.
	AppName string `mapstructure:"app_name"`

	// ServerSelectionTimeout bounds how long Open waits for a usable server.
	ServerSelectionTimeout string `mapstructure:"server_selection_timeout"`

	// SampleSize is how many documents are read to infer a collection schema.
	SampleSize int `mapstructure:"sample_size"`
}

func decodeParams(raw map[string]any) (Params, error) {
	p := Params{
		AppName:                "dbrowse",
		ServerSelectionTimeout: "10s",
		SampleSize:             100,
	}
	if len(raw) == 0 {
		return p, nil
	}
	if err := mapstructure.WeakDecode(raw, &p); err != nil {
		return p, fmt.Errorf("invalid mongodb params: %w", err)
	}
	if p.SampleSize <= 0 {
		p.SampleSize = 100
	}
	return p, nil
}

func (p Params) selectionTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(p.ServerSelectionTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid mongodb server_selection_timeout: %w", err)
	}
	return d, nil
}

// buildURI turns a profile into a connection string. Profile options become
// URI query parameters (authSource, replicaSet, tls, ...).
func buildURI(profile core.ConnectionProfile, password string, p Params) string {
	u := url.URL{Scheme: "mongodb", Host: profile.Address()}
	if p.SRV || profile.Option("srv", "") == "true" {
		u.Scheme = "mongodb+srv"
		u.Host = profile.Host
	}
	if profile.Username != "" {
		u.User = url.UserPassword(profile.Username, password)
	}
	u.Path = "/" + databaseName(profile)

	if len(profile.Options) > 0 {
		keys := make([]string, 0, len(profile.Options))
		for k := range profile.Options {
			if k != "srv" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		q := url.Values{}
		for _, k := range keys {
			q.Set(k, profile.Options[k])
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// databaseName returns the profile database, defaulting to "test" like the
// mongo shell does.
func databaseName(profile core.ConnectionProfile) string {
	if db := strings.TrimSpace(profile.Database); db != "" {
		return db
	}
	return "test"
}
