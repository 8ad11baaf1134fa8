package store

import (
	"strings"

	"github.com/lib/pq"
)

// postgresDialect backs "client-server relational A" (spec.md §4.3). It is
// the one pack repo (halidrauf-Continuum) that wires a real SQL driver, so
// claim_next on this backend uses the primitive the spec calls out by name:
// SELECT ... FOR UPDATE SKIP LOCKED (see claim.go).
var postgresDialect = &dialect{
	name:          "postgres",
	placeholder:   dollarPlaceholder,
	serialPK:      "SERIAL PRIMARY KEY",
	jsonType:      "JSONB",
	boolType:      "BOOLEAN",
	timestampType: "TIMESTAMPTZ",
	returningIDClause: "RETURNING id",
	isUniqueViolation: func(err error, column string) bool {
		pqErr, ok := asPQError(err)
		if !ok {
			return false
		}
		// Class 23 is integrity constraint violation; 23505 is unique_violation.
		return pqErr.Code == "23505" && strings.Contains(pqErr.Constraint, column)
	},
}

const postgresDriverName = "postgres"

func asPQError(err error) (*pq.Error, bool) {
	pqErr, ok := err.(*pq.Error)
	return pqErr, ok
}
