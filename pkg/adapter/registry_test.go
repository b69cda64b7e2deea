package adapter

import (
	"log/slog"
	"testing"

	"github.com/leapstack-labs/dbrowse/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	// Register a mock adapter
	Register("test_engine_internal", func(_ *slog.Logger) Adapter { return nil })

	assert.True(t, IsRegistered("test_engine_internal"), "test_engine_internal should be registered after Register()")

	factory, ok := Get("test_engine_internal")
	assert.True(t, ok, "Get(test_engine_internal) should return true after Register()")
	assert.NotNil(t, factory, "Get(test_engine_internal) should return non-nil factory")

	assert.Contains(t, ListEngines(), "test_engine_internal")
}

func TestNewAdapter_UnknownEngine(t *testing.T) {
	_, err := NewAdapter("oracle", nil)
	require.Error(t, err)

	var unknown *core.UnknownEngineError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, core.EngineKind("oracle"), unknown.Kind)
	assert.NotContains(t, unknown.Available, "oracle")
}

func TestListEngines_Sorted(t *testing.T) {
	Register("zz_engine", func(_ *slog.Logger) Adapter { return nil })
	Register("aa_engine", func(_ *slog.Logger) Adapter { return nil })

	names := ListEngines()
	assert.IsIncreasing(t, names)
}
