package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir  = ".draftclinic"
	defaultDBName = "draftclinic.db"
)

type Config struct {
	// Workspace holds the .draftclinic directory. Ignored when Path is set.
	Workspace string
	// Path points at an explicit database file.
	Path string
}

func (c Config) path() string {
	if c.Path != "" {
		return c.Path
	}
	workspace := c.Workspace
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, defaultDBName)
}

// EnsureWorkspace creates the workspace data directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys on and a busy timeout
// so concurrent writers queue instead of failing immediately.
func Open(cfg Config) (*sql.DB, error) {
	p := cfg.path()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", p)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Single connection: reads inside a transaction must use the *sql.Tx or they block.
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Path returns the db path for the config.
func Path(cfg Config) string {
	return cfg.path()
}
