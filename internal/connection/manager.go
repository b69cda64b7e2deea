// Package connection manages live connections: at most one per profile,
// opened lazily, torn down on transport failure, released when idle.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/leapstack-labs/dbrowse/internal/metrics"
	"github.com/leapstack-labs/dbrowse/internal/profile"
	"github.com/leapstack-labs/dbrowse/pkg/adapter"
	"github.com/leapstack-labs/dbrowse/pkg/core"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultOpenTimeout bounds an open when Options.OpenTimeout is not set.
const DefaultOpenTimeout = 30 * time.Second

// Factory builds an unopened adapter for an engine kind.
type Factory func(kind core.EngineKind, logger *slog.Logger) (adapter.Adapter, error)

// Options configures a Manager.
type Options struct {
	// Settings are applied to every adapter before Open.
	Settings adapter.Settings

	// Secrets resolves profile SecretRefs. Defaults to profile.EnvResolver.
	Secrets profile.SecretResolver

	// Factory builds adapters. Defaults to adapter.NewAdapter.
	Factory Factory

	// OpenTimeout bounds one open. Defaults to DefaultOpenTimeout.
	OpenTimeout time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Manager owns the live connections of a session.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	conns    map[string]*LiveConnection
	inflight singleflight.Group
}

// NewManager creates a Manager.
// If opts.Logger is nil, a discard logger is used.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Secrets == nil {
		opts.Secrets = profile.EnvResolver{}
	}
	if opts.Factory == nil {
		opts.Factory = adapter.NewAdapter
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenTimeout
	}
	if opts.Settings == (adapter.Settings{}) {
		opts.Settings = adapter.DefaultSettings()
	}
	return &Manager{
		opts:   opts,
		logger: opts.Logger,
		conns:  make(map[string]*LiveConnection),
	}
}

// Acquire returns the live connection for p, opening one when none exists or
// the existing one is broken. Concurrent calls for the same profile share a
// single open. The open is detached from any one caller's cancellation and
// bounded by OpenTimeout; each caller stops waiting when its own ctx ends.
func (m *Manager) Acquire(ctx context.Context, p core.ConnectionProfile) (*LiveConnection, error) {
	// Fast path: check cache under read lock.
	if c := m.lookup(p); c != nil {
		return c, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, waitError(err)
	}

	ch := m.inflight.DoChan(p.Name, func() (any, error) {
		// Double-check cache (another goroutine may have completed while we waited).
		if c := m.lookup(p); c != nil {
			return c, nil
		}
		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.OpenTimeout)
		defer cancel()
		return m.open(openCtx, p)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*LiveConnection), nil
	case <-ctx.Done():
		return nil, waitError(ctx.Err())
	}
}

// waitError maps the end of a caller's wait into the taxonomy.
func waitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.TimeoutError{}
	}
	return &core.CancelledError{}
}

// lookup returns a usable cached connection for p. A cached connection for
// the same name but a different profile is closed.
func (m *Manager) lookup(p core.ConnectionProfile) *LiveConnection {
	m.mu.RLock()
	c, ok := m.conns[p.Name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if !c.Broken() && reflect.DeepEqual(c.Profile, p) {
		c.touch()
		return c
	}
	m.teardown(c, "profile changed or connection broken")
	return nil
}

// open builds, configures and opens an adapter. Called within singleflight.
func (m *Manager) open(ctx context.Context, p core.ConnectionProfile) (*LiveConnection, error) {
	logger := m.logger.With(slog.String("profile", p.Name), slog.String("engine", string(p.Engine)))

	a, err := m.opts.Factory(p.Engine, logger)
	if err != nil {
		var unknown *core.UnknownEngineError
		if errors.As(err, &unknown) {
			return nil, &core.ConnectionError{Profile: p.Name, Reason: core.ReasonUnsupportedEngine, Message: unknown.Error(), Err: unknown}
		}
		return nil, &core.ConnectionError{Profile: p.Name, Reason: core.ReasonUnsupportedEngine, Message: err.Error(), Err: err}
	}
	if c, ok := a.(adapter.Configurable); ok {
		c.Configure(m.opts.Settings)
	}

	password, err := m.opts.Secrets.Resolve(ctx, p.SecretRef)
	if err != nil {
		return nil, &core.ConnectionError{Profile: p.Name, Reason: core.ReasonAuth, Message: err.Error()}
	}

	start := time.Now()
	if err := a.Open(ctx, p, password); err != nil {
		_ = a.Close()
		classified := m.openError(ctx, a, p, err)
		logger.Warn("failed to open connection", slog.String("error", classified.Error()), slog.Duration("elapsed", time.Since(start)))
		return nil, classified
	}

	c := newLiveConnection(p, a)
	m.mu.Lock()
	m.conns[p.Name] = c
	m.mu.Unlock()
	m.opts.Metrics.ConnectionOpened(string(p.Engine))

	logger.Info("connection opened",
		slog.String("connection_id", c.ID.String()),
		slog.String("target", p.String()),
		slog.Duration("elapsed", time.Since(start)))
	return c, nil
}

// openError maps an Open failure into a ConnectionError. Caller cancellation
// and deadline expiry keep their own kinds.
func (m *Manager) openError(ctx context.Context, a adapter.Adapter, p core.ConnectionProfile, err error) error {
	if ctx.Err() != nil {
		return waitError(ctx.Err())
	}
	classified := a.ClassifyError(err)
	var ce *core.ConnectionError
	if errors.As(classified, &ce) {
		if ce.Profile == "" {
			ce.Profile = p.Name
		}
		return ce
	}
	return &core.ConnectionError{Profile: p.Name, Reason: core.ReasonNetwork, Message: adapter.RootMessage(classified), Err: classified}
}

// Report inspects the outcome of an operation on c. A network failure marks
// the connection broken and closes it; the next Acquire opens a new one.
// Nothing is retried.
func (m *Manager) Report(c *LiveConnection, err error) {
	if c == nil || !core.IsTransportFailure(err) {
		return
	}
	if c.broken.CompareAndSwap(false, true) {
		m.teardown(c, err.Error())
	}
}

// teardown removes c from the cache if it is still the cached connection and closes it.
func (m *Manager) teardown(c *LiveConnection, reason string) {
	c.broken.Store(true)
	m.mu.Lock()
	current, ok := m.conns[c.Profile.Name]
	if ok && current == c {
		delete(m.conns, c.Profile.Name)
	}
	m.mu.Unlock()
	if !ok || current != c {
		return
	}

	m.logger.Warn("tearing down connection",
		slog.String("profile", c.Profile.Name),
		slog.String("connection_id", c.ID.String()),
		slog.String("reason", reason))
	if err := c.close(); err != nil {
		m.logger.Debug("close after teardown failed", slog.String("error", err.Error()))
	}
	m.opts.Metrics.ConnectionClosed(string(c.Profile.Engine))
}

// ReleaseIdle closes the named connection if it has been unused for longer
// than after and has no calls in flight.
func (m *Manager) ReleaseIdle(name string, after time.Duration) (bool, error) {
	cutoff := time.Now().Add(-after)

	m.mu.Lock()
	c, ok := m.conns[name]
	if !ok || !c.idle(cutoff) {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.conns, name)
	m.mu.Unlock()

	m.logger.Debug("releasing idle connection", slog.String("profile", name), slog.Time("last_used", c.LastUsed()))
	m.opts.Metrics.ConnectionClosed(string(c.Profile.Engine))
	if err := c.close(); err != nil {
		return true, fmt.Errorf("failed to close %s: %w", name, err)
	}
	return true, nil
}

// ReleaseAllIdle releases every idle connection and returns how many were closed.
func (m *Manager) ReleaseAllIdle(after time.Duration) (int, error) {
	var (
		released int
		errs     []error
	)
	for _, name := range m.names() {
		ok, err := m.ReleaseIdle(name, after)
		if ok {
			released++
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return released, errors.Join(errs...)
}

// RunIdleSweeper releases connections idle longer than after until ctx is done.
func (m *Manager) RunIdleSweeper(ctx context.Context, after time.Duration) {
	if after <= 0 {
		return
	}
	ticker := time.NewTicker(after / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := m.ReleaseAllIdle(after); err != nil {
				m.logger.Warn("idle sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				m.logger.Debug("idle sweep released connections", slog.Int("count", n))
			}
		}
	}
}

// Close closes the named connection. Closing an unknown name is a no-op.
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	c, ok := m.conns[name]
	delete(m.conns, name)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.opts.Metrics.ConnectionClosed(string(c.Profile.Engine))
	if err := c.close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	m.logger.Debug("connection closed", slog.String("profile", name))
	return nil
}

// CloseAll closes every connection in parallel.
func (m *Manager) CloseAll() error {
	var g errgroup.Group
	for _, name := range m.names() {
		g.Go(func() error { return m.Close(name) })
	}
	return g.Wait()
}

// Stat describes one live connection.
type Stat struct {
	Profile  string
	Engine   core.EngineKind
	ID       string
	OpenedAt time.Time
	LastUsed time.Time
	InFlight int
}

// Stats returns a snapshot of the live connections sorted by profile name.
func (m *Manager) Stats() []Stat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make([]Stat, 0, len(m.conns))
	for name, c := range m.conns {
		stats = append(stats, Stat{
			Profile:  name,
			Engine:   c.Engine(),
			ID:       c.ID.String(),
			OpenedAt: c.OpenedAt,
			LastUsed: c.LastUsed(),
			InFlight: c.InFlight(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Profile < stats[j].Profile })
	return stats
}

func (m *Manager) names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.conns))
	for name := range m.conns {
		names = append(names, name)
	}
	return names
}
