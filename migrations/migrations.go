// Package migrations embeds the goose migrations applied by core/db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
