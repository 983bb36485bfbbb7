//go:build !cgo

package registry

import (
	"database/sql"

	sqlite "modernc.org/sqlite"
)

// Pure-Go builds register modernc under the libsql name so both builds
// open registries the same way.
const sqliteDriver = "libsql"

func init() {
	sql.Register(sqliteDriver, &sqlite.Driver{})
}

func checkSQLiteDSN(dsn string) error {
	if isRemoteDSN(dsn) {
		return errRemoteNeedsCgo
	}
	return nil
}
