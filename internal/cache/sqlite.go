// Package cache persists folder status snapshots in SQLite so the unread
// badge and the account rows of the folder tree have counts to show before
// an account is listed live.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// Cache owns the snapshot database
type Cache struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewCache opens or creates the snapshot database at dbPath
func NewCache(dbPath string, logger *logrus.Logger) (*Cache, error) {
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// each :memory: connection is a separate database
	db.SetMaxOpenConns(1)

	c := &Cache{db: db, logger: logger}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithField("path", dbPath).Info("Snapshot cache opened")
	return c, nil
}

// migrate creates the schema. Snapshots are disposable, so a database
// written by another schema version is wiped rather than converted.
func (c *Cache) migrate() error {
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := c.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to configure database: %w", err)
		}
	}

	var version int
	if err := c.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version != 0 && version != SchemaVersion {
		c.logger.WithFields(logrus.Fields{
			"found":    version,
			"expected": SchemaVersion,
		}).Warn("Discarding snapshot cache from another schema version")
		if _, err := c.db.Exec(dropSchema); err != nil {
			return fmt.Errorf("failed to drop old schema: %w", err)
		}
	}

	if _, err := c.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := c.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// Close closes the database
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DB returns the underlying database handle
func (c *Cache) DB() *sql.DB {
	return c.db
}
