package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultDBName = "tapeoutops.db"

type Config struct {
	// DataDir holds the database file. Defaults to the current directory.
	DataDir string
	// Path overrides DataDir when set.
	Path string
}

func (c Config) path() string {
	if c.Path != "" {
		return c.Path
	}
	dir := c.DataDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, defaultDBName)
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Open opens the SQLite database with foreign keys on. WAL keeps readers off
// the writer's lock; concurrent writers wait on busy_timeout.
func Open(cfg Config) (*sql.DB, error) {
	p := cfg.path()
	if err := EnsureDataDir(filepath.Dir(p)); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", p)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open database %s: %w", p, err)
	}
	return conn, nil
}

// Path returns the db path for the config.
func Path(cfg Config) string {
	return cfg.path()
}
