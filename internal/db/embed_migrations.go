package db

import "embed"

// MigrationFS embeds the SQL migration files. The migrate runner (cmd/migrate)
// applies them.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
