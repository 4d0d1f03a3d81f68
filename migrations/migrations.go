// Package migrations embeds the Postgres schema for the conversation store.
package migrations

import "embed"

// FS holds the numbered up/down SQL files.
//
//go:embed *.sql
var FS embed.FS
