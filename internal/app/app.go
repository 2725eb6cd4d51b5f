package app

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/pkg/errors"

	"synccity/internal/config"
	"synccity/internal/db"
	"synccity/internal/engine"
	"synccity/internal/logging"
	"synccity/internal/migrate"
)

// App bundles the opened database and the engine built on top of it.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Engine *engine.Engine
	Logger *slog.Logger
}

// Open validates cfg, opens and migrates the database and builds the engine.
// A nil logger is built from cfg.Log.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		l, err := logging.New(cfg.Log, nil)
		if err != nil {
			return nil, err
		}
		logger = l
	}
	conn, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	logger.Debug("database ready", slog.String("path", cfg.Database.Path), slog.String("scan_mode", cfg.Scan.Mode))
	return &App{
		Config: cfg,
		DB:     conn,
		Engine: engine.New(conn, cfg, logger),
		Logger: logger,
	}, nil
}

// Close drains pending scans and closes the database.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if err := a.Engine.Close(ctx); err != nil {
		firstErr = err
	}
	if err := a.DB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
