package migrations

import "embed"

// FS contains embedded SQLite migrations for siteslot storage.
//
//go:embed *.sql
var FS embed.FS
