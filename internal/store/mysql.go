package store

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// mysqlDialect backs "client-server relational B" (spec.md §4.3). MySQL's
// InnoDB does not support SKIP LOCKED before 8.0, so claim_next on this
// backend takes a plain FOR UPDATE row lock ordered by (priority DESC, id
// ASC) instead — the adapter-documented guarantee spec.md §4.3.3 requires
// each backend to state.
var mysqlDialect = &dialect{
	name:          "mysql",
	placeholder:   questionPlaceholder,
	serialPK:      "INT AUTO_INCREMENT PRIMARY KEY",
	jsonType:      "JSON",
	boolType:      "TINYINT(1)",
	timestampType: "DATETIME(6)",
	isUniqueViolation: func(err error, column string) bool {
		var myErr *mysql.MySQLError
		if !errors.As(err, &myErr) {
			return false
		}
		// 1062 is ER_DUP_ENTRY; its message names the violated key.
		return myErr.Number == 1062 && strings.Contains(myErr.Message, column)
	},
}

const mysqlDriverName = "mysql"
