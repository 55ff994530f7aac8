// Package store persists pipeline state in Postgres: SCD version history,
// access grants and materialized layer tables.
package store

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/David-Botos/data-cleansing/pkg/converter"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// NewDB wraps a pgx backed connection for sqlx use
func NewDB(db *sql.DB) *sqlx.DB {
	return sqlx.NewDb(db, "pgx")
}

func qualified(schema, table string) string {
	if schema == "" {
		return converter.QuoteIdentifier(table)
	}
	return converter.QuoteIdentifier(schema) + "." + converter.QuoteIdentifier(table)
}
