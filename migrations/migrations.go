// Package migrations embeds the versioned SQL schema files applied by db.Migrate.
// Files follow golang-migrate naming: NNN_description.up.sql with a matching .down.sql.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
