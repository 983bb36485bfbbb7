package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "memory", cfg: Config{Path: ":memory:"}, want: ":memory:"},
		{name: "plain path", cfg: Config{Path: filepath.Join(dir, "a", "registry.db")}, want: "file:" + filepath.Join(dir, "a", "registry.db")},
		{name: "file dsn kept", cfg: Config{Path: "file:" + filepath.Join(dir, "b", "r.db") + "?cache=shared"}, want: "file:" + filepath.Join(dir, "b", "r.db") + "?cache=shared"},
		{name: "url wins over path", cfg: Config{Path: "ignored.db", URL: "libsql://team.turso.io"}, want: "libsql://team.turso.io"},
		{name: "auth token appended", cfg: Config{URL: "libsql://team.turso.io", AuthToken: "tok"}, want: "libsql://team.turso.io?authToken=tok"},
		{name: "auth token not duplicated", cfg: Config{URL: "libsql://team.turso.io?authToken=mine", AuthToken: "tok"}, want: "libsql://team.turso.io?authToken=mine"},
		{name: "nothing set", cfg: Config{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sqliteDSN(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.DirExists(t, filepath.Join(dir, "a"))
	assert.DirExists(t, filepath.Join(dir, "b"))
}

func TestFileDSNPath(t *testing.T) {
	for dsn, want := range map[string]string{
		"file:/var/lib/cleanstep/r.db":   "/var/lib/cleanstep/r.db",
		"file:///var/lib/cleanstep/r.db": "/var/lib/cleanstep/r.db",
		"file:runs/r.db?_journal=WAL":    "runs/r.db",
	} {
		got, err := fileDSNPath(dsn)
		require.NoError(t, err, dsn)
		assert.Equal(t, want, got, dsn)
	}
}

func TestIsRemoteDSN(t *testing.T) {
	assert.True(t, isRemoteDSN("libsql://team.turso.io"))
	assert.True(t, isRemoteDSN("https://team.turso.io"))
	assert.False(t, isRemoteDSN("file:registry.db"))
	assert.False(t, isRemoteDSN(":memory:"))
}

func TestOpen_FileRegistryCreatesParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "registry.db")

	db, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.FileExists(t, path)
	assert.Equal(t, DriverSQLite, db.Driver())

	var mode string
	require.NoError(t, db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}
