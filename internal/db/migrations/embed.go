// Package migrations provides embedded SQL migration files.
// They are applied by db.RunMigrations from `server migrate` and by
// testutil in integration tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
