// Package migrations embeds the SQL schema for the users, bots and projects
// tables. Files follow golang-migrate naming: NNNNNN_name.{up,down}.sql.
package migrations

import "embed"

// FS holds the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS
