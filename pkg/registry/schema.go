package registry

import (
	"context"
	"errors"
	"fmt"
)

// SchemaVersion is the newest schema this build knows how to write.
const SchemaVersion = 1

// ErrSchemaTooNew reports a registry migrated by a newer cleanstep.
var ErrSchemaTooNew = errors.New("registry schema is newer than this build")

// migration moves the schema from version-1 to version.
type migration struct {
	version int
	stmts   []string
}

// Statements stick to the SQL shared by SQLite and Postgres: fixed-width
// TEXT timestamps, BIGINT sizes, ON CONFLICT upserts.
var migrations = []migration{
	{version: 1, stmts: []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			job_type TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			-- typed configuration record attached at init
			config_json TEXT,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS run_events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			occurred_at TEXT NOT NULL,
			stage TEXT NOT NULL,
			event_type TEXT NOT NULL,
			detail TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id)`,

		`CREATE TABLE IF NOT EXISTS artifact_versions (
			artifact_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			type TEXT NOT NULL,
			description TEXT,
			-- blob store key of the payload
			object_key TEXT NOT NULL,
			file_name TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			sha256 TEXT NOT NULL,
			created_run_id TEXT,
			created_at TEXT NOT NULL,
			UNIQUE(name, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifact_versions_name ON artifact_versions(name)`,

		`CREATE TABLE IF NOT EXISTS artifact_aliases (
			name TEXT NOT NULL,
			alias TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(name, alias)
		)`,

		`CREATE TABLE IF NOT EXISTS run_artifacts (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			artifact_id TEXT NOT NULL REFERENCES artifact_versions(artifact_id),
			-- "input" (used) or "output" (logged)
			direction TEXT NOT NULL,
			linked_at TEXT NOT NULL,
			PRIMARY KEY(run_id, artifact_id, direction)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_artifacts_artifact ON run_artifacts(artifact_id)`,
	}},
}

// Migrate brings the registry up to SchemaVersion in one transaction.
// Steps at or below the recorded version are skipped; a registry recorded
// above SchemaVersion is left untouched and reported as ErrSchemaTooNew.
func Migrate(ctx context.Context, db *DB) error {
	if db == nil || db.DB == nil {
		return errors.New("migrate registry: db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate registry: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		)`,
		`INSERT INTO schema_meta (id, schema_version) VALUES (1, 0) ON CONFLICT(id) DO NOTHING`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate registry: schema_meta: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id = 1`).Scan(&current); err != nil {
		return fmt.Errorf("migrate registry: read version: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("%w: registry at v%d, build supports v%d", ErrSchemaTooNew, current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		for i, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate registry: v%d step %d: %w", m.version, i+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx, db.rebind(`UPDATE schema_meta SET schema_version = ? WHERE id = 1`), m.version); err != nil {
			return fmt.Errorf("migrate registry: record v%d: %w", m.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate registry: commit: %w", err)
	}
	return nil
}
