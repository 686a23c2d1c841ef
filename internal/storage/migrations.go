package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.0.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Documents table: one row per ingested protocol
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    doc_uuid TEXT NOT NULL UNIQUE,
    source_name TEXT NOT NULL,
    source_hash BLOB NOT NULL,
    embedder_provider TEXT,
    embedder_model TEXT,
    embedding_dim INTEGER DEFAULT 0,
    max_tokens INTEGER DEFAULT 0,
    overlap INTEGER DEFAULT 0,
    total_chunks INTEGER DEFAULT 0,
    total_windows INTEGER DEFAULT 0,
    indexed_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Chunks table: one row per leaf section
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL,
    path TEXT NOT NULL,
    title TEXT NOT NULL,
    full_title TEXT NOT NULL,
    parent_path TEXT,
    depth INTEGER,
    start_offset INTEGER NOT NULL,
    end_offset INTEGER NOT NULL,
    content TEXT NOT NULL,
    FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

-- Windows table: retrieval units shared by both indexes
CREATE TABLE IF NOT EXISTS windows (
    id INTEGER PRIMARY KEY,
    chunk_id INTEGER NOT NULL,
    ordinal INTEGER NOT NULL,
    title TEXT NOT NULL,
    text TEXT NOT NULL,
    is_table BOOLEAN DEFAULT 0,
    token_count INTEGER,
    content_hash BLOB NOT NULL,
    FOREIGN KEY (chunk_id) REFERENCES chunks(id) ON DELETE CASCADE,
    UNIQUE(chunk_id, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_windows_chunk ON windows(chunk_id);

-- Full-text search on windows
CREATE VIRTUAL TABLE IF NOT EXISTS windows_fts USING fts5(
    title, text,
    content='windows',
    content_rowid='id'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS windows_ai AFTER INSERT ON windows BEGIN
    INSERT INTO windows_fts(rowid, title, text)
    VALUES (new.id, new.title, new.text);
END;

CREATE TRIGGER IF NOT EXISTS windows_ad AFTER DELETE ON windows BEGIN
    INSERT INTO windows_fts(windows_fts, rowid, title, text)
    VALUES ('delete', old.id, old.title, old.text);
END;

CREATE TRIGGER IF NOT EXISTS windows_au AFTER UPDATE ON windows BEGIN
    INSERT INTO windows_fts(windows_fts, rowid, title, text)
    VALUES ('delete', old.id, old.title, old.text);
    INSERT INTO windows_fts(rowid, title, text)
    VALUES (new.id, new.title, new.text);
END;

-- Embeddings table
CREATE TABLE IF NOT EXISTS embeddings (
    window_id INTEGER PRIMARY KEY,
    vector BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (window_id) REFERENCES windows(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_embeddings_provider ON embeddings(provider, model);
`

const migrationV1Down = `
-- Drop all tables in reverse order of dependencies
DROP TRIGGER IF EXISTS windows_au;
DROP TRIGGER IF EXISTS windows_ad;
DROP TRIGGER IF EXISTS windows_ai;

DROP TABLE IF EXISTS embeddings;
DROP TABLE IF EXISTS windows_fts;
DROP TABLE IF EXISTS windows;
DROP TABLE IF EXISTS chunks;
DROP TABLE IF EXISTS documents;
DROP TABLE IF EXISTS schema_version;
`

// currentVersion reads the most recently applied schema version, 0.0.0 if none
func currentVersion(ctx context.Context, db querier) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	var versionStr string
	err = db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC, version DESC LIMIT 1").Scan(&versionStr)
	if err == sql.ErrNoRows || (err == nil && versionStr == "") {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}

	v, err := semver.NewVersion(versionStr)
	if err != nil {
		return nil, fmt.Errorf("invalid current schema version %s: %w", versionStr, err)
	}
	return v, nil
}

// ApplyMigrations runs all pending migrations, each in its own transaction
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !current.LessThan(migrationVersion) {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %s: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", migration.Version, err)
		}

		current = migrationVersion
	}

	return nil
}

// checkSchemaVersion reports whether the database is at a version this
// binary understands. It never migrates.
func checkSchemaVersion(ctx context.Context, db querier) (string, error) {
	v, err := currentVersion(ctx, db)
	if err != nil {
		return "", err
	}
	want := semver.MustParse(CurrentSchemaVersion)
	if !v.Equal(want) {
		return v.String(), fmt.Errorf("%w: have %s, want %s", ErrSchemaVersion, v, want)
	}
	return v.String(), nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	var current string
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC, version DESC LIMIT 1").Scan(&current)
	if err != nil {
		return fmt.Errorf("no migrations to rollback: %w", err)
	}

	var migration *Migration
	for i := range AllMigrations {
		if AllMigrations[i].Version == current {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", current, err)
	}

	// The first migration drops schema_version itself
	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", current); err != nil && migration.Version != AllMigrations[0].Version {
		return fmt.Errorf("failed to remove migration record %s: %w", current, err)
	}

	return nil
}
