// Package migrations embeds the Postgres schema for the schedule store.
package migrations

import "embed"

// FS holds the golang-migrate source files.
//
//go:embed *.sql
var FS embed.FS
