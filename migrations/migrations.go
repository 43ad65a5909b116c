// Package migrations embeds the PostgreSQL schema for the ledger, audit index,
// compliance issues and erasure records.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
