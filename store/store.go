// Package store persists relayer state in an embedded SQLite database: the
// materialized contract event log, the organization cache, and a small
// metadata map holding the indexer watermark and sync timestamps.
//
// The ledger remains the source of truth; everything here is a cache plus an
// append-mostly event log. Writes are serialized through a single pooled
// connection; WAL keeps readers from blocking on the writer.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store wraps the SQLite handle.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates the database file if absent, applies the schema and any
// additive migrations, and returns a ready store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite allows a single writer; one pooled connection serializes all
	// statements and avoids SQLITE_BUSY churn under concurrent loops.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.runMigrations()

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		ledger INTEGER,
		tx_hash TEXT NOT NULL,
		observed_at INTEGER NOT NULL,
		verified INTEGER NOT NULL DEFAULT 0,
		UNIQUE(tx_hash, kind, org_id)
	);

	CREATE INDEX IF NOT EXISTS idx_events_org_ledger ON events(org_id, ledger DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_events_verified ON events(verified);
	CREATE INDEX IF NOT EXISTS idx_events_tx_hash ON events(tx_hash);

	CREATE TABLE IF NOT EXISTS orgs (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		admin TEXT NOT NULL,
		open_membership INTEGER NOT NULL DEFAULT 0,
		members_can_propose INTEGER NOT NULL DEFAULT 0,
		metadata_ref TEXT NOT NULL DEFAULT '',
		member_count INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// runMigrations applies additive schema changes for databases created by
// earlier builds. Duplicate-column errors mean the schema is already
// current.
func (s *Store) runMigrations() {
	migrations := []string{
		`ALTER TABLE orgs ADD COLUMN metadata_ref TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE orgs ADD COLUMN member_count INTEGER NOT NULL DEFAULT 0`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if !strings.Contains(err.Error(), "duplicate column") {
				s.logger.Warn("migration failed", zap.String("statement", m), zap.Error(err))
			}
		}
	}
}
