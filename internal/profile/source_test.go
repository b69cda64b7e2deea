package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/dbrowse/internal/config"
	"github.com/leapstack-labs/dbrowse/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Connections = map[string]config.ConnectionConfig{
		"local": {Engine: "sqlite", Database: "app.db"},
		"prod":  {Engine: "postgres", Host: "pg", User: "ro", Secret: "env:PG_PASSWORD"},
	}
	return cfg
}

func TestConfigSource_Profiles(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "mysql://root@db/shop")

	src, err := NewConfigSource(testConfig())
	require.NoError(t, err)

	profiles, err := src.Profiles()
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "default", profiles[0].Name)
	assert.Equal(t, core.EngineMySQL, profiles[0].Engine)
	assert.Equal(t, "local", profiles[1].Name)
	assert.Equal(t, "prod", profiles[2].Name)
	assert.Equal(t, "env:PG_PASSWORD", profiles[2].SecretRef)
}

func TestConfigSource_ConfigWinsOverEnv(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "mysql://root@db/shop")
	cfg := testConfig()
	cfg.Connections["default"] = config.ConnectionConfig{Engine: "sqlite", Database: "x.db"}

	src, err := NewConfigSource(cfg)
	require.NoError(t, err)

	p, err := src.Lookup("default")
	require.NoError(t, err)
	assert.Equal(t, core.EngineSQLite, p.Engine)

	profiles, err := src.Profiles()
	require.NoError(t, err)
	assert.Len(t, profiles, 3)
}

func TestConfigSource_Lookup(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")
	src, err := NewConfigSource(testConfig())
	require.NoError(t, err)

	p, err := src.Lookup("prod")
	require.NoError(t, err)
	assert.Equal(t, core.EnginePostgres, p.Engine)
	assert.Equal(t, "ro", p.Username)

	p, err = src.Lookup("sqlite:///tmp/adhoc.db")
	require.NoError(t, err)
	assert.Equal(t, "tmp/adhoc.db", p.Database)

	_, err = src.Lookup("missing")
	var nf *core.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.Object)
}

func TestNewConfigSource_BadEnvURL(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "ftp://nope")
	_, err := NewConfigSource(testConfig())
	assert.Error(t, err)
}

func TestEnvResolver(t *testing.T) {
	ctx := context.Background()
	r := EnvResolver{}

	v, err := r.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, v)

	t.Setenv("DBROWSE_TEST_SECRET", "hunter2")
	v, err = r.Resolve(ctx, "env:DBROWSE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	_, err = r.Resolve(ctx, "env:DBROWSE_TEST_MISSING")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "pw")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	v, err = r.Resolve(ctx, "file:"+path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)

	_, err = r.Resolve(ctx, "file:"+filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	v, err = r.Resolve(ctx, "pre-${DBROWSE_TEST_SECRET}")
	require.NoError(t, err)
	assert.Equal(t, "pre-hunter2", v)

	v, err = r.Resolve(ctx, "pa$$word")
	require.NoError(t, err)
	assert.Equal(t, "pa$$word", v)

	v, err = r.Resolve(ctx, Literal("env:${DBROWSE_TEST_SECRET}"))
	require.NoError(t, err)
	assert.Equal(t, "env:${DBROWSE_TEST_SECRET}", v)
}
