// Package migrations embeds the SQL files golang-migrate applies to a
// fresh Postgres database: an embed.FS of up/down pairs served through
// golang-migrate's iofs source driver.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
