// Package migrations holds the SQL schema of the claims store, compiled into
// the binary.
package migrations

import "embed"

// FS holds the versioned migration files at its root.
//
//go:embed *.sql
var FS embed.FS
