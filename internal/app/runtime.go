package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"nexusdao/internal/config"
	"nexusdao/internal/db"
	"nexusdao/internal/engine"
	"nexusdao/internal/identity"
	"nexusdao/internal/metrics"
	"nexusdao/internal/migrate"
	"nexusdao/internal/query"
)

// Runtime is everything a command or the HTTP server needs, opened once.
type Runtime struct {
	Config   *config.Config
	DB       *sql.DB
	Engine   engine.Engine
	Query    query.Service
	Resolver identity.Resolver
	// Sessions is nil in delegated mode.
	Sessions *identity.SessionIssuer
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
}

// LoadConfig reads nexus.yml from workspace, falling back to defaults.
// A relative storage.workspace is resolved against workspace.
func LoadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Workspace == "" || !filepath.IsAbs(cfg.Storage.Workspace) {
		cfg.Storage.Workspace = filepath.Join(workspace, cfg.Storage.Workspace)
	}
	return cfg, nil
}

// Open opens the store, applies migrations and wires the services for cfg.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: cfg.Storage.Workspace})
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	m := metrics.New()
	eng := engine.New(conn, log, m)
	resolver, err := identity.New(cfg.Auth, eng.Repo)
	if err != nil {
		conn.Close()
		return nil, err
	}
	rt := &Runtime{
		Config:   cfg,
		DB:       conn,
		Engine:   eng,
		Query:    query.New(eng.Repo),
		Resolver: resolver,
		Metrics:  m,
		Log:      log,
	}
	if sr, ok := resolver.(identity.SessionResolver); ok {
		rt.Sessions = sr.Sessions
	}
	log.Debug().
		Str("db", db.Path(cfg.Storage.Workspace)).
		Int("schema_version", version).
		Str("auth_mode", resolver.Mode()).
		Msg("runtime opened")
	return rt, nil
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}
