// Package db embeds the SQL migrations and the AI prompt seeds so the binaries
// can initialise a fresh database without the source tree.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS

//go:embed seed/*.json seed/*.txt
var SeedFiles embed.FS
