package store

import (
	"fmt"
	"strings"
)

// Dialect supplies the column types and expressions that differ per driver.
type Dialect interface {
	JSONType() string
	TimestampType() string
	Now() string
}

type sqliteDialect struct{}

func (d sqliteDialect) JSONType() string      { return "TEXT" }
func (d sqliteDialect) TimestampType() string { return "TEXT" }
func (d sqliteDialect) Now() string           { return "datetime('now')" }

type postgresDialect struct{}

func (d postgresDialect) JSONType() string      { return "JSONB" }
func (d postgresDialect) TimestampType() string { return "TIMESTAMPTZ" }
func (d postgresDialect) Now() string           { return "NOW()" }

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	n := 0
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(fmt.Sprintf("$%d", n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
