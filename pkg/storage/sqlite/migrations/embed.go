package migrations

import "embed"

// FS contains embedded SQLite migrations for product storage.
//
//go:embed *.sql
var FS embed.FS
