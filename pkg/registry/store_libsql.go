//go:build cgo

package registry

import _ "github.com/tursodatabase/go-libsql"

// sqliteDriver is registered by go-libsql and handles both local files and
// remote Turso URLs.
const sqliteDriver = "libsql"

func checkSQLiteDSN(string) error { return nil }
