// Package registry persists the artifact registry and run provenance.
//
// The registry is the metadata half of the artifact store: it maps
// name:version references and aliases onto blob keys, and records each
// tracked run with its configuration, stage events and the artifacts it used
// and produced. Payload bytes live in a provider.BlobStore.
//
// Local registries use SQLite (modernc.org/sqlite, or libsql in cgo builds);
// shared registries use Postgres through pgx.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Driver selects the registry backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config configures the registry connection.
type Config struct {
	// Driver is sqlite (default) or postgres.
	Driver Driver

	// Path is a local filesystem path to the SQLite database.
	// If set, it is converted into a file: DSN. ":memory:" is accepted.
	Path string

	// URL is a libsql/Turso URL (sqlite driver) or a postgres:// URL.
	URL string

	// AuthToken is appended to libsql URL DSNs as authToken=... when not already present.
	AuthToken string

	// PingTimeout bounds the initial connectivity check. Zero means 5s.
	PingTimeout time.Duration
}

// DB is a registry connection with its SQL dialect.
//
// Queries are written with ? placeholders and rebound for Postgres.
type DB struct {
	*sql.DB
	driver Driver
}

// Driver returns the backend the connection was opened with.
func (db *DB) Driver() Driver {
	return db.driver
}

// Open opens (and creates if needed) the registry database and applies
// the schema.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		raw *sql.DB
		err error
	)
	switch cfg.Driver {
	case "", DriverSQLite:
		cfg.Driver = DriverSQLite
		raw, err = openSQLite(ctx, cfg)
	case DriverPostgres:
		raw, err = openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported registry driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	db := &DB{DB: raw, driver: cfg.Driver}
	if err := Migrate(ctx, db); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.ExecContext(ctx, db.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.QueryContext(ctx, db.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.QueryRowContext(ctx, db.rebind(query), args...)
}

func pingTimeout(cfg Config) time.Duration {
	if cfg.PingTimeout > 0 {
		return cfg.PingTimeout
	}
	return 5 * time.Second
}

// timeLayout is fixed-width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse registry timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
