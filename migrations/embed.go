// Package migrations holds the numbered SQL files applied by
// `telemed-server migrate up`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
