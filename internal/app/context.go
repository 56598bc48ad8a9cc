package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"designgate/internal/config"
	"designgate/internal/db"
	"designgate/internal/engine"
	"designgate/internal/migrate"
	"designgate/internal/snapshot"
)

// Options locate the workspace state an Engine is built from.
type Options struct {
	Workspace  string
	ConfigFile string
	PoolFile   string
	Logger     *zap.Logger
}

// ResolveConfig prefers an explicit config file, then the workspace
// designgate.yml, then the built-in defaults.
func ResolveConfig(opts Options) (*config.Config, error) {
	if opts.ConfigFile != "" {
		cfg, err := config.FromFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", opts.ConfigFile, err)
		}
		return cfg, nil
	}
	return config.LoadOptional(opts.Workspace)
}

// OpenEngine opens and migrates the workspace database and builds an
// Engine over it. The returned close func releases the database.
func OpenEngine(ctx context.Context, opts Options) (engine.Engine, func() error, error) {
	cfg, err := ResolveConfig(opts)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := openDB(ctx, opts.Workspace, opts.Logger)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	e := engine.New(conn, cfg, opts.Logger)

	poolFile := opts.PoolFile
	if poolFile == "" {
		poolFile = cfg.Guidance.PoolFile
	}
	if poolFile != "" {
		pool, err := snapshot.LoadPool(poolFile)
		if err != nil {
			conn.Close()
			return engine.Engine{}, nil, fmt.Errorf("load guidance pool: %w", err)
		}
		if e, err = e.WithPool(pool); err != nil {
			conn.Close()
			return engine.Engine{}, nil, err
		}
	}
	return e, conn.Close, nil
}

func openDB(ctx context.Context, workspace string, logger *zap.Logger) (*sql.DB, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if logger != nil {
		if applied, latest, err := migrate.Version(ctx, conn); err == nil {
			logger.Debug("workspace schema", zap.String("db", db.Path(workspace)), zap.Int("applied", applied), zap.Int("latest", latest))
		}
	}
	return conn, nil
}
