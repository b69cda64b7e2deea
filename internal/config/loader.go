package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// File names searched for when no explicit config file is given.
const (
	ConfigFileName    = "dbrowse.yaml"
	ConfigFileNameAlt = "dbrowse.yml"
)

// EnvPrefix is the prefix of environment variables read into the config.
const EnvPrefix = "DBROWSE_"

// sections are the nested config groups reachable from env vars and flags.
var sections = []string{"query", "page", "pool"}

// flagKeys maps flags whose names differ from their config key.
var flagKeys = map[string]string{
	"timeout":  "query.timeout",
	"max_rows": "query.max_raw_rows",
}

// Loader loads configuration. The zero value is not usable; use NewLoader.
type Loader struct {
	k        *koanf.Koanf
	fileUsed string
}

// NewLoader returns a Loader with an empty koanf instance.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(".")}
}

// FileUsed returns the path of the config file that was read, if any.
func (l *Loader) FileUsed() string {
	return l.fileUsed
}

// Load loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func (l *Loader) Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	l.k = koanf.New(".")
	l.fileUsed = ""

	// 1. Load defaults
	if err := l.k.Load(confmap.Provider(defaultValues(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	l.fileUsed = findConfigFile(cfgFile)
	if l.fileUsed != "" {
		if err := l.k.Load(file.Provider(l.fileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", l.fileUsed, err)
		}
	}

	// 3. Load environment variables (DBROWSE_ prefix)
	// Transform: DBROWSE_QUERY_MAX_RAW_ROWS -> query.max_raw_rows
	if err := l.k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority - overrides env vars and config file)
	if flags != nil {
		if err := l.k.Load(posflag.ProviderWithFlag(flags, ".", l.k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	for name, conn := range cfg.Connections {
		cfg.Connections[name] = expandConnectionEnvVars(conn)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// findConfigFile finds the config file to use.
// Priority: explicit path > ./dbrowse.yaml > ./dbrowse.yml > user config dir
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	candidates := []string{ConfigFileName, ConfigFileNameAlt}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(dir, "dbrowse", ConfigFileName),
			filepath.Join(dir, "dbrowse", ConfigFileNameAlt),
		)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// envKey maps DBROWSE_PAGE_SIZE to page.size. The first segment selects the
// section when it names one; the rest stays snake_case.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range sections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// flagKey maps a kebab-case flag name to its config key.
func flagKey(name string) string {
	key := strings.ReplaceAll(name, "-", "_")
	if mapped, ok := flagKeys[key]; ok {
		return mapped
	}
	for _, section := range sections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnvVars expands ${VAR} patterns in a string with environment variable values.
func ExpandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}

// expandConnectionEnvVars expands environment variables in connection fields.
// Secrets are left for the secret resolver.
func expandConnectionEnvVars(c ConnectionConfig) ConnectionConfig {
	c.Host = ExpandEnvVars(c.Host)
	c.User = ExpandEnvVars(c.User)
	c.Database = ExpandEnvVars(c.Database)
	for k, v := range c.Options {
		c.Options[k] = ExpandEnvVars(v)
	}
	return c
}
