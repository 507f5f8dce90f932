package store

import "embed"

// Migrations holds the golang-migrate SQL files for the PostgreSQL store,
// rooted at "migrations".
//
//go:embed migrations/*.sql
var Migrations embed.FS
