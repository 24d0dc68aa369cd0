package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds the schema history; each numbered file registers one step.
var Migrations = migrate.NewMigrations()
