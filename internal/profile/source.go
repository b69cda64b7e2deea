package profile

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/dbrowse/internal/config"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// Source lists saved connection profiles. Sources are read only.
type Source interface {
	Profiles() ([]core.ConnectionProfile, error)
	Lookup(name string) (core.ConnectionProfile, error)
}

// ConfigSource serves the connections: map of the loaded configuration.
// When DATABASE_URL is set its profile is served under DefaultName unless the
// config already defines that name.
type ConfigSource struct {
	cfg *config.Config
	env *core.ConnectionProfile
}

var _ Source = (*ConfigSource)(nil)

// NewConfigSource creates a source over cfg and the DATABASE_URL environment variable.
func NewConfigSource(cfg *config.Config) (*ConfigSource, error) {
	s := &ConfigSource{cfg: cfg}
	p, ok, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if ok {
		s.env = &p
	}
	return s, nil
}

// Profiles returns all profiles sorted by name.
func (s *ConfigSource) Profiles() ([]core.ConnectionProfile, error) {
	profiles := make([]core.ConnectionProfile, 0, len(s.cfg.Connections)+1)
	for name, c := range s.cfg.Connections {
		profiles = append(profiles, c.Profile(name))
	}
	if s.env != nil {
		if _, exists := s.cfg.Connections[DefaultName]; !exists {
			profiles = append(profiles, *s.env)
		}
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// Lookup returns the named profile. A name that parses as a database URL is
// accepted too, so ad-hoc connections need no config entry.
func (s *ConfigSource) Lookup(name string) (core.ConnectionProfile, error) {
	if c, ok := s.cfg.Connections[name]; ok {
		return c.Profile(name), nil
	}
	if name == DefaultName && s.env != nil {
		return *s.env, nil
	}
	if p, err := ParseURL(name); err == nil {
		return p, nil
	}
	return core.ConnectionProfile{}, &core.NotFoundError{Object: name, Message: fmt.Sprintf("no connection named %q", name)}
}
