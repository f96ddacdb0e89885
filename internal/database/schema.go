package database

import (
	"context"
	"fmt"
	"log/slog"
)

// schemaVersion is stored in PRAGMA user_version
const schemaVersion = 1

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS staged_files (
		path         TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		size         INTEGER NOT NULL,
		crc32        INTEGER NOT NULL,
		md5          TEXT NOT NULL,
		saved_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_staged_files_saved_at ON staged_files (saved_at)`,
}

// EnsureSchema creates the catalog tables if they are missing
func (d *Database) EnsureSchema(ctx context.Context) error {
	var version int
	if err := d.QueryRow(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("catalog %s has schema version %d, newer than supported %d", d.path, version, schemaVersion)
	}
	if version == schemaVersion {
		return nil
	}

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // Safe to call even after commit

	for _, ddl := range schemaDDL {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating catalog schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("setting schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schema: %w", err)
	}

	slog.Debug("Catalog schema created", "path", d.path, "version", schemaVersion)

	return nil
}
