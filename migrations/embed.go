package migrations

import "embed"

// Files exposes the monitored_users schema migrations embedded into the binary.
//
//go:embed *.sql
var Files embed.FS
