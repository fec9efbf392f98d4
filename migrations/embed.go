// Package migrations embeds the SQL migrations that create the per-chat message schema.
package migrations

import "embed"

// FS holds the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS
