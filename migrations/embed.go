// Package migrations embeds the SQL schema so the binary can migrate a fresh
// database without the files present on disk.
package migrations

import "embed"

// FS holds every *.sql migration at its root; pass "." as the directory.
//
//go:embed *.sql
var FS embed.FS
