package store

import (
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteDialect backs the "embedded single-file" store (spec.md §4.3).
// Grounded on the teacher's internal/db/db.go: a single connection in WAL
// mode, since modernc.org/sqlite serializes writes through one *sql.DB
// connection rather than a server-side lock manager.
var sqliteDialect = &dialect{
	name:          "sqlite",
	placeholder:   questionPlaceholder,
	serialPK:      "INTEGER PRIMARY KEY AUTOINCREMENT",
	jsonType:      "TEXT",
	boolType:      "INTEGER",
	timestampType: "TEXT",
	isUniqueViolation: func(err error, column string) bool {
		if err == nil {
			return false
		}
		msg := strings.ToLower(err.Error())
		return strings.Contains(msg, "unique constraint") && strings.Contains(msg, strings.ToLower(column))
	},
}

const sqliteDriverName = "sqlite"
