package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// migration mirrors the teacher's internal/db/migrations.go structure
// (versioned, one transaction per version, schema_migrations bookkeeping),
// generalized to build its statements from the active dialect instead of
// being hardcoded to SQLite.
type migration struct {
	version    int
	name       string
	statements func(d *dialect) []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "init_core_tables",
		statements: func(d *dialect) []string {
			return []string{
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
					id %s,
					username VARCHAR(50) NOT NULL UNIQUE,
					api_key VARCHAR(512) NOT NULL
				)`, d.serialPK),
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS batch_jobs (
					id %s,
					username VARCHAR(50) NOT NULL,
					creation_time %s NOT NULL
				)`, d.serialPK, d.timestampType),
				// The fingerprint dedup column starts life under its legacy
				// name params_deterministic_hash; migration 2 renames it to
				// fingerprint (spec.md §9). hash_id is a separate column.
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS test_results (
					id %s,
					hash_id CHAR(16) NOT NULL UNIQUE,
					params_deterministic_hash BIGINT NOT NULL,
					domain VARCHAR(254) NOT NULL,
					batch_id INTEGER NULL REFERENCES batch_jobs(id),
					creation_time %s NOT NULL,
					start_time %s NULL,
					end_time %s NULL,
					progress INTEGER NOT NULL DEFAULT 0,
					params %s NOT NULL,
					results %s NULL,
					undelegated %s NOT NULL DEFAULT %s,
					priority INTEGER NOT NULL DEFAULT 10,
					queue INTEGER NOT NULL DEFAULT 0
				)`, d.serialPK, d.timestampType, d.timestampType, d.timestampType,
					d.jsonType, d.jsonType, d.boolType, falseLiteral(d)),
				`CREATE INDEX IF NOT EXISTS idx_test_results_domain ON test_results(domain)`,
				`CREATE INDEX IF NOT EXISTS idx_test_results_batch ON test_results(batch_id)`,
				`CREATE INDEX IF NOT EXISTS idx_test_results_pdh ON test_results(params_deterministic_hash)`,
			}
		},
	},
	{
		// The legacy column/index rename spec.md §9 calls out explicitly:
		// "The legacy column was renamed from params_deterministic_hash to
		// fingerprint; keep the newer name and provide migrations."
		version: 2,
		name:    "rename_params_deterministic_hash_to_fingerprint",
		statements: func(d *dialect) []string {
			dropIndex := `DROP INDEX IF EXISTS idx_test_results_pdh`
			if d.name == mysqlDriverName {
				dropIndex = `DROP INDEX idx_test_results_pdh ON test_results`
			}
			return []string{
				dropIndex,
				`ALTER TABLE test_results RENAME COLUMN params_deterministic_hash TO fingerprint`,
				`CREATE INDEX IF NOT EXISTS idx_test_results_fingerprint ON test_results(fingerprint)`,
			}
		},
	},
}

// falseLiteral renders the dialect's boolean false literal for DDL DEFAULT
// clauses.
func falseLiteral(d *dialect) string {
	if d.boolType == "BOOLEAN" {
		return "FALSE"
	}
	return "0"
}

// Migrate runs any pending migrations against db for the given dialect.
// Mirrors internal/db/migrations.go's Migrate in the teacher almost
// exactly: a schema_migrations bookkeeping table, one transaction per
// migration, and a hard failure if a previously-applied version has since
// been removed from the code (schema drift guard).
func Migrate(db *sql.DB, d *dialect) error {
	if db == nil {
		return fmt.Errorf("store: db is nil")
	}
	if err := ensureSchemaMigrations(db, d); err != nil {
		return err
	}
	applied, err := loadAppliedVersions(db)
	if err != nil {
		return err
	}
	known := make(map[int]struct{}, len(migrations))
	for _, m := range migrations {
		known[m.version] = struct{}{}
	}
	for v := range applied {
		if _, ok := known[v]; !ok {
			return fmt.Errorf("store: unknown schema migration version %d", v)
		}
	}
	for _, m := range migrations {
		if _, ok := applied[m.version]; ok {
			continue
		}
		if err := applyMigration(db, d, m); err != nil {
			return err
		}
	}
	return nil
}

func ensureSchemaMigrations(db *sql.DB, d *dialect) error {
	_, err := db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		applied_at %s NOT NULL
	)`, d.timestampType))
	if err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}
	return nil
}

func loadAppliedVersions(db *sql.DB) (map[int]struct{}, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("store: list schema_migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[int]struct{})
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("store: scan schema_migrations: %w", err)
		}
		applied[v] = struct{}{}
	}
	return applied, rows.Err()
}

func applyMigration(db *sql.DB, d *dialect, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin migration %d: %w", m.version, err)
	}
	for _, stmt := range m.statements(d) {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" {
			continue
		}
		if _, err := tx.Exec(trimmed); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: exec migration %d (%s): %w", m.version, trimmed, err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (`+
		placeholders(d, 3)+`)`, m.version, m.name, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("store: record migration %d: %w", m.version, err)
	}
	return tx.Commit()
}

func placeholders(d *dialect, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = d.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}
