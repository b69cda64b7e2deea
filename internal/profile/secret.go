package profile

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/leapstack-labs/dbrowse/internal/config"
)

// SecretResolver turns a profile SecretRef into a password.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// LiteralPrefix marks a SecretRef that holds the password itself.
const LiteralPrefix = "literal:"

// Literal returns a SecretRef that resolves to password unchanged.
func Literal(password string) string {
	return LiteralPrefix + password
}

// EnvResolver resolves references of the forms
//
//	literal:TEXT TEXT exactly as written
//	env:NAME     value of environment variable NAME
//	file:PATH    contents of PATH, trailing newline trimmed
//	anything     used verbatim after ${VAR} expansion
type EnvResolver struct{}

var _ SecretResolver = EnvResolver{}

// Resolve implements SecretResolver.
func (EnvResolver) Resolve(_ context.Context, ref string) (string, error) {
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, LiteralPrefix):
		return strings.TrimPrefix(ref, LiteralPrefix), nil
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		v, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("secret environment variable %s is not set", name)
		}
		return v, nil
	case strings.HasPrefix(ref, "file:"):
		path := strings.TrimPrefix(ref, "file:")
		b, err := os.ReadFile(path) //nolint:gosec // path comes from the user's own config
		if err != nil {
			return "", fmt.Errorf("failed to read secret file: %w", err)
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	default:
		return config.ExpandEnvVars(ref), nil
	}
}
