package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// sqlitePragmas apply to file-backed registries only.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
}

// openSQLite opens the registry through whichever driver the build
// registered as sqliteDriver (libsql with cgo, modernc without).
func openSQLite(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn, err := sqliteDSN(cfg)
	if err != nil {
		return nil, err
	}
	if err := checkSQLiteDSN(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open(sqliteDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	// One connection serializes writers and keeps :memory: on one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout(cfg))
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping registry: %w", err)
	}

	if strings.HasPrefix(dsn, "file:") {
		for _, pragma := range sqlitePragmas {
			// Some pragmas answer with a row; Query drains it on Close.
			rows, err := db.QueryContext(pingCtx, pragma)
			if err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("registry %s: %w", pragma, err)
			}
			_ = rows.Close()
		}
	}
	return db, nil
}

// sqliteDSN maps Config onto a driver DSN. Local database files get their
// parent directory created.
func sqliteDSN(cfg Config) (string, error) {
	if u := strings.TrimSpace(cfg.URL); u != "" {
		return withAuthToken(u, cfg.AuthToken)
	}

	p := strings.TrimSpace(cfg.Path)
	switch {
	case p == "":
		return "", errors.New("registry path or url is required")
	case p == ":memory:", strings.HasPrefix(p, "libsql:"):
		return p, nil
	case strings.HasPrefix(p, "file:"):
		local, err := fileDSNPath(p)
		if err != nil {
			return "", err
		}
		return p, mkParent(local)
	default:
		return "file:" + filepath.Clean(p), mkParent(p)
	}
}

func withAuthToken(dsn, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid registry url: %w", err)
	}
	q := u.Query()
	if q.Get("authToken") == "" {
		q.Set("authToken", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// fileDSNPath extracts the filesystem path from file:path, file:/abs and
// file:///abs forms, dropping any query.
func fileDSNPath(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid registry path: %w", err)
	}
	if u.Path != "" {
		return u.Path, nil
	}
	return strings.TrimPrefix(u.Opaque, "//"), nil
}

func mkParent(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}
	return nil
}

var errRemoteNeedsCgo = errors.New("remote libsql registry requires a cgo-enabled build")

func isRemoteDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "https://") || strings.HasPrefix(dsn, "http://")
}
