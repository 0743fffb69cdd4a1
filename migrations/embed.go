// Package migrations embeds the SQL schema for the persisted device identity
// scheme.
package migrations

import "embed"

// FS holds the *.up.sql files; pass it to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
