package adapter

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// Factory constructs a new, unopened adapter.
type Factory func(*slog.Logger) Adapter

var (
	registryMu sync.RWMutex
	registry   = make(map[core.EngineKind]Factory)
)

// Register adds an adapter factory to the registry.
// Called by adapter implementations in their init() functions.
func Register(kind core.EngineKind, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// Get retrieves an adapter factory by engine kind.
func Get(kind core.EngineKind) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[kind]
	return f, ok
}

// NewAdapter creates a new adapter instance for the engine kind.
// The logger parameter is passed to the adapter constructor (nil uses discard logger).
func NewAdapter(kind core.EngineKind, logger *slog.Logger) (Adapter, error) {
	factory, ok := Get(kind)
	if !ok {
		return nil, &core.UnknownEngineError{
			Kind:      kind,
			Available: ListEngines(),
		}
	}
	return factory(logger), nil
}

// ListEngines returns all registered engine kinds (sorted).
func ListEngines() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for kind := range registry {
		names = append(names, string(kind))
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if an engine kind has a registered adapter.
func IsRegistered(kind core.EngineKind) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[kind]
	return ok
}
