package app

import (
	"context"
	"database/sql"
	"fmt"

	"streetrun/internal/config"
	"streetrun/internal/db"
	"streetrun/internal/domain"
	"streetrun/internal/engine"
	"streetrun/internal/migrate"
)

// Open loads the workspace config, opens and migrates its database and seeds
// missing catalog entries from streetrun.yml when the file exists. Without a
// config file the stored catalog is left as is. The caller closes the returned DB.
func Open(ctx context.Context, workspace string, override func(*config.Config)) (engine.Engine, *config.Config, *sql.DB, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return engine.Engine{}, nil, nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return engine.Engine{}, nil, nil, err
		}
	}
	dbCfg, err := cfg.DBConfig(workspace)
	if err != nil {
		return engine.Engine{}, nil, nil, err
	}
	if dbCfg.Dialect == db.SQLite && dbCfg.Path == "" {
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return engine.Engine{}, nil, nil, err
		}
	}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return engine.Engine{}, nil, nil, err
	}
	e := engine.New(conn, dbCfg.Dialect, cfg)
	var seed []domain.MissionDefinition
	if config.Exists(workspace) {
		seed = cfg.Catalog
	}
	if err := Bootstrap(ctx, e, seed); err != nil {
		conn.Close()
		return engine.Engine{}, nil, nil, err
	}
	return e, cfg, conn, nil
}

// Bootstrap applies migrations and inserts the catalog missions not stored
// yet. Stored missions keep their imported and toggled state.
func Bootstrap(ctx context.Context, e engine.Engine, catalog []domain.MissionDefinition) error {
	if err := migrate.Migrate(e.DB, e.Repo.Dialect); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	n, err := e.SeedCatalog(ctx, catalog, "bootstrap")
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	if n > 0 {
		e.Logger.InfoContext(ctx, "seeded mission catalog", "added", n)
	}
	return nil
}
