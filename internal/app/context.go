// Package app assembles the runtime shared by the CLI commands and the server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"draftclinic/internal/config"
	"draftclinic/internal/db"
	"draftclinic/internal/engine"
	"draftclinic/internal/migrate"
	"draftclinic/internal/session"
	"draftclinic/internal/storage"
)

type Options struct {
	Workspace  string
	ConfigPath string
	// Sessions connects the redis refresh-token store; only the server needs it.
	Sessions bool
	// LogOutput defaults to stderr.
	LogOutput io.Writer
}

// Runtime is an opened workspace: config, migrated database and engine.
type Runtime struct {
	Config   *config.Config
	DB       *sql.DB
	Engine   engine.Engine
	Sessions *session.RedisStore
	Logger   *slog.Logger
}

// ResolveConfig loads the explicit config path, or the workspace file when present.
func ResolveConfig(workspace, configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadOptional(config.Path(workspace))
}

// Open loads config, opens and migrates the database and wires the engine.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := ResolveConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, cfg, opts)
}

func OpenWithConfig(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := NewLogger(cfg, out)
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Path: cfg.Database.Path})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	store, err := OpenStorage(ctx, cfg, opts.Workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	rt := &Runtime{
		Config: cfg,
		DB:     conn,
		Engine: engine.New(conn, store, logger),
		Logger: logger,
	}
	if opts.Sessions {
		sessions, err := session.NewRedisStore(ctx, cfg.Redis.URL, cfg.RefreshTTL())
		if err != nil {
			conn.Close()
			return nil, err
		}
		rt.Sessions = sessions
	}
	logger.Debug("runtime ready", "database", db.Path(db.Config{Workspace: opts.Workspace, Path: cfg.Database.Path}), "storage", cfg.Storage.Driver)
	return rt, nil
}

func (r *Runtime) Close() error {
	if r.Sessions != nil {
		_ = r.Sessions.Close()
	}
	return r.DB.Close()
}

// OpenStorage builds the configured file store. Relative local directories
// resolve against the workspace.
func OpenStorage(ctx context.Context, cfg *config.Config, workspace string) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "s3":
		s3 := cfg.Storage.S3
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:  s3.Endpoint,
			Bucket:    s3.Bucket,
			Region:    s3.Region,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			UseSSL:    s3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 storage: %w", err)
		}
		return store, nil
	default:
		dir := cfg.Storage.Dir
		if !filepath.IsAbs(dir) && workspace != "" {
			dir = filepath.Join(workspace, dir)
		}
		store, err := storage.NewLocalStore(dir)
		if err != nil {
			return nil, fmt.Errorf("open local storage: %w", err)
		}
		return store, nil
	}
}

// NewLogger builds the slog logger described by the log section.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
