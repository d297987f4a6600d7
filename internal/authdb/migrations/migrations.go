// Package migrations embeds the goose migration SQL for both supported
// credential-store dialects.
package migrations

import "embed"

//go:embed sqlite/*.sql
var SQLite embed.FS

//go:embed postgres/*.sql
var Postgres embed.FS
