package store

import "fmt"

// dialect isolates the per-backend SQL differences spec.md §4.3.3 calls
// out: autoincrement syntax, boolean representation, JSON column type,
// timestamp precision, and placeholder syntax. Everything else in this
// package is written once against the dialect, not duplicated per backend.
type dialect struct {
	name string

	// placeholder renders the i-th (1-based) bind parameter.
	placeholder func(i int) string

	serialPK    string // DDL fragment for an auto-incrementing integer primary key
	jsonType    string // DDL fragment for a JSON-capable column
	boolType    string // DDL fragment for a boolean column
	timestampType string // DDL fragment for a timestamp column

	// returningIDClause, when non-empty, is appended to INSERT statements
	// and the new id is read back via QueryRow instead of LastInsertId.
	// lib/pq never populates sql.Result's LastInsertId (Postgres has no
	// client-side equivalent), so the postgres dialect sets this to
	// "RETURNING id" while sqlite/mysql leave it empty.
	returningIDClause string

	// isUniqueViolation reports whether err is a unique-constraint violation
	// on the given column, normalizing the three drivers' distinct error
	// shapes (spec.md §4.3.3, §9 "polymorphic store").
	isUniqueViolation func(err error, column string) bool
}

func questionPlaceholder(i int) string { return "?" }
func dollarPlaceholder(i int) string    { return fmt.Sprintf("$%d", i) }
