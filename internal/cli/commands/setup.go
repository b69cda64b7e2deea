package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leapstack-labs/dbrowse/internal/browse"
	"github.com/leapstack-labs/dbrowse/internal/config"
	"github.com/leapstack-labs/dbrowse/internal/connection"
	"github.com/leapstack-labs/dbrowse/internal/executor"
	"github.com/leapstack-labs/dbrowse/internal/metrics"
	"github.com/leapstack-labs/dbrowse/internal/profile"
	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// Session holds everything a command needs. It is built once per invocation
// by the root command and stored in the command context.
type Session struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Service  *browse.Service
	Profiles profile.Source
	Renderer *Renderer
	Registry *prometheus.Registry

	// ProfileName is the --profile flag: a saved profile name or a URL.
	ProfileName string
	// MetricsOut is a file the metrics are written to on Close.
	MetricsOut string
}

// SessionOptions configures NewSession.
type SessionOptions struct {
	Config      *config.Config
	Logger      *slog.Logger
	Out         io.Writer
	ErrOut      io.Writer
	ProfileName string
	MetricsOut  string
}

// NewSession wires the browse service from configuration.
func NewSession(opts SessionOptions) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.ErrOut == nil {
		opts.ErrOut = os.Stderr
	}

	source, err := profile.NewConfigSource(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	conns := connection.NewManager(connection.Options{
		Settings:    cfg.AdapterSettings(),
		OpenTimeout: cfg.Query.Timeout,
		Metrics:     m,
		Logger:      logger,
	})
	svc := browse.New(browse.Options{
		Connections: conns,
		Executor:    executor.New(cfg.Query.Timeout, m, logger),
		PageSize:    cfg.Page.Size,
		Metrics:     m,
		Logger:      logger,
	})

	return &Session{
		Cfg:         cfg,
		Logger:      logger,
		Service:     svc,
		Profiles:    source,
		Renderer:    NewRenderer(opts.Out, opts.ErrOut, cfg.OutputFormat),
		Registry:    reg,
		ProfileName: opts.ProfileName,
		MetricsOut:  opts.MetricsOut,
	}, nil
}

// ResolveProfile returns the profile selected by --profile. Without the flag
// the default profile is used: DATABASE_URL or a saved profile named
// "default", or the only saved profile when there is exactly one.
func (s *Session) ResolveProfile() (core.ConnectionProfile, error) {
	if s.ProfileName != "" {
		return s.Profiles.Lookup(s.ProfileName)
	}

	p, err := s.Profiles.Lookup(profile.DefaultName)
	if err == nil {
		return p, nil
	}
	var nf *core.NotFoundError
	if !errors.As(err, &nf) {
		return core.ConnectionProfile{}, err
	}

	all, listErr := s.Profiles.Profiles()
	if listErr != nil {
		return core.ConnectionProfile{}, listErr
	}
	if len(all) == 1 {
		return all[0], nil
	}
	return core.ConnectionProfile{}, fmt.Errorf("no connection selected: pass --profile or set %s", profile.EnvDatabaseURL)
}

// Close closes live connections and writes metrics when requested.
func (s *Session) Close() error {
	errs := []error{s.Service.Close()}
	if s.MetricsOut != "" {
		if err := os.MkdirAll(filepath.Dir(s.MetricsOut), 0o750); err != nil {
			errs = append(errs, fmt.Errorf("failed to create metrics directory: %w", err))
		} else if err := prometheus.WriteToTextfile(s.MetricsOut, s.Registry); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

type sessionKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session stored by the root command.
func SessionFrom(ctx context.Context) (*Session, error) {
	if s, ok := ctx.Value(sessionKey{}).(*Session); ok && s != nil {
		return s, nil
	}
	return nil, errors.New("no session in command context")
}

// profileAndSession is the common prologue of commands that talk to a database.
func profileAndSession(ctx context.Context) (*Session, core.ConnectionProfile, error) {
	s, err := SessionFrom(ctx)
	if err != nil {
		return nil, core.ConnectionProfile{}, err
	}
	p, err := s.ResolveProfile()
	if err != nil {
		return nil, core.ConnectionProfile{}, err
	}
	s.Logger.Debug("using profile", slog.String("profile", p.String()))
	return s, p, nil
}
