package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the latest schema version supported by the migrator.
const SchemaVersion = 1

var decisionsDDL = map[string]string{
	DriverSQLite: `
		CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at TEXT NOT NULL,
			hot_tub_f REAL NULL,
			solar_f REAL NULL,
			ambient_f REAL NULL,
			delta_f REAL NULL,
			pump TEXT NOT NULL,
			heater TEXT NOT NULL,
			action TEXT NOT NULL,
			rule TEXT NOT NULL,
			note TEXT NOT NULL,
			duration TEXT NOT NULL,
			read_failures INTEGER NOT NULL DEFAULT 0
		);`,
	DriverMySQL: `
		CREATE TABLE IF NOT EXISTS decisions (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			recorded_at VARCHAR(40) NOT NULL,
			hot_tub_f DOUBLE NULL,
			solar_f DOUBLE NULL,
			ambient_f DOUBLE NULL,
			delta_f DOUBLE NULL,
			pump VARCHAR(16) NOT NULL,
			heater VARCHAR(16) NOT NULL,
			action VARCHAR(16) NOT NULL,
			rule VARCHAR(32) NOT NULL,
			note VARCHAR(255) NOT NULL,
			duration VARCHAR(64) NOT NULL,
			read_failures INT NOT NULL DEFAULT 0
		)`,
}

// Migrate ensures the schema exists and is upgraded to SchemaVersion.
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}
	ddl, ok := decisionsDDL[dialect]
	if !ok {
		return fmt.Errorf("migrate: unsupported dialect %q", dialect)
	}

	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`)
	if err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	err = db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate: create decisions table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, SchemaVersion); err != nil {
		return fmt.Errorf("migrate: record version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit: %w", err)
	}
	return nil
}
