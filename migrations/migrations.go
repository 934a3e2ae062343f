// Package migrations embeds the SQL schema for the relational storage drivers.
package migrations

import "embed"

const (
	SQLiteDir   = "sqlite"
	PostgresDir = "postgres"
)

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
