// Package migrations embeds the schema for every SQL driver.
package migrations

import "embed"

// PostgresFS holds golang-migrate files for postgres and pgx.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// SQLiteFS holds the schema applied when a sqlite store opens.
//
//go:embed sqlite/*.sql
var SQLiteFS embed.FS
