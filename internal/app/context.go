package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"pilotdeck/internal/config"
	"pilotdeck/internal/db"
	"pilotdeck/internal/engine"
	"pilotdeck/internal/migrate"
)

// Options select the workspace directory and optional overrides.
type Options struct {
	Workspace   string
	WorkspaceID string
	ConfigPath  string
	ActorID     string
	Logger      *slog.Logger
}

// Context is an opened, migrated workspace ready to serve requests.
type Context struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// ResolveConfig loads the config file named by opts, falling back to the
// default catalog when the workspace has none. WorkspaceID overrides the id
// found in the file.
func ResolveConfig(opts Options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.FromFile(opts.ConfigPath)
	} else {
		cfg, err = config.LoadOptional(opts.Workspace)
	}
	if err != nil {
		return nil, err
	}
	if opts.WorkspaceID != "" {
		cfg.Workspace.ID = opts.WorkspaceID
	}
	return cfg, nil
}

// Open resolves config, opens and migrates the database and ensures the
// configured workspace row exists.
func Open(ctx context.Context, opts Options) (*Context, error) {
	cfg, err := ResolveConfig(opts)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	if opts.Logger != nil {
		eng.Logger = opts.Logger
	}
	actor := opts.ActorID
	if actor == "" {
		actor = "local-user"
	}
	if err := eng.EnsureWorkspace(ctx, cfg.Workspace.ID, cfg.Workspace.Name, actor); err != nil {
		conn.Close()
		return nil, err
	}
	return &Context{DB: conn, Config: cfg, Engine: eng}, nil
}
