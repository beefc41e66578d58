// Package migrations embeds the goose SQL migrations for the server schema.
package migrations

import "embed"

// Migrations holds every *.sql migration, applied in file-name order.
//
//go:embed *.sql
var Migrations embed.FS
