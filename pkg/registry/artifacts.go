package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// AliasLatest always points at the newest version of an artifact.
const AliasLatest = "latest"

// Direction records how a run touched an artifact version.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// ArtifactVersion is one immutable version of a named artifact.
type ArtifactVersion struct {
	ArtifactID   string
	Name         string
	Version      int
	Type         string
	Description  string
	ObjectKey    string
	FileName     string
	SizeBytes    int64
	SHA256       string
	CreatedRunID string
	CreatedAt    time.Time

	// Aliases currently pointing at this version (sorted).
	Aliases []string
}

// Ref returns the canonical name:vN reference.
func (v ArtifactVersion) Ref() string {
	return v.Name + ":v" + strconv.Itoa(v.Version)
}

// NewVersion describes a version to register. Version numbers are assigned
// by CreateVersion.
type NewVersion struct {
	ArtifactID   string
	Name         string
	Type         string
	Description  string
	ObjectKey    string
	FileName     string
	SizeBytes    int64
	SHA256       string
	CreatedRunID string

	// Aliases are attached in addition to "latest".
	Aliases []string
}

// RunArtifact is an artifact version linked to a run.
type RunArtifact struct {
	ArtifactVersion
	Direction Direction
	LinkedAt  time.Time
}

// ParseVersionSelector reports whether sel names a version number
// ("v3" or "3") rather than an alias.
func ParseVersionSelector(sel string) (int, bool) {
	s := strings.TrimPrefix(sel, "v")
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// CreateVersion registers the next version of nv.Name and moves "latest"
// (plus any extra aliases) to it, all in one transaction.
func CreateVersion(ctx context.Context, db *DB, nv NewVersion) (*ArtifactVersion, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(nv.Name) == "" {
		return nil, errors.New("artifact name is required")
	}
	if strings.TrimSpace(nv.Type) == "" {
		return nil, errors.New("artifact type is required")
	}
	if nv.ArtifactID == "" {
		nv.ArtifactID = generateID()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	if err := tx.QueryRowContext(ctx,
		db.rebind(`SELECT COALESCE(MAX(version), 0) FROM artifact_versions WHERE name = ?`),
		nv.Name).Scan(&current); err != nil {
		return nil, fmt.Errorf("read current version: %w", err)
	}

	now := time.Now().UTC()
	v := &ArtifactVersion{
		ArtifactID:   nv.ArtifactID,
		Name:         nv.Name,
		Version:      current + 1,
		Type:         nv.Type,
		Description:  nv.Description,
		ObjectKey:    nv.ObjectKey,
		FileName:     nv.FileName,
		SizeBytes:    nv.SizeBytes,
		SHA256:       nv.SHA256,
		CreatedRunID: nv.CreatedRunID,
		CreatedAt:    now,
	}

	var createdRun sql.NullString
	if v.CreatedRunID != "" {
		createdRun = sql.NullString{String: v.CreatedRunID, Valid: true}
	}

	_, err = tx.ExecContext(ctx, db.rebind(
		`INSERT INTO artifact_versions
		 (artifact_id, name, version, type, description, object_key, file_name,
		  size_bytes, sha256, created_run_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		v.ArtifactID, v.Name, v.Version, v.Type, v.Description, v.ObjectKey, v.FileName,
		v.SizeBytes, v.SHA256, createdRun, formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s:v%d: %w", v.Name, v.Version, ErrVersionConflict)
		}
		return nil, fmt.Errorf("insert artifact version: %w", err)
	}

	aliases := dedupeAliases(append([]string{AliasLatest}, nv.Aliases...))
	for _, alias := range aliases {
		if err := upsertAlias(ctx, tx, db, v.Name, alias, v.Version, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit artifact version: %w", err)
	}

	v.Aliases = aliases
	return v, nil
}

// SetAlias points alias at an existing version of name.
func SetAlias(ctx context.Context, db *DB, name, alias string, version int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateAlias(alias); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		db.rebind(`SELECT COUNT(*) FROM artifact_versions WHERE name = ? AND version = ?`),
		name, version).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check artifact version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%s:v%d: %w", name, version, ErrNotFound)
	}

	if err := upsertAlias(ctx, tx, db, name, alias, version, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit alias: %w", err)
	}
	return nil
}

// ResolveVersion resolves name plus a version selector (vN, N or alias).
// An empty selector means "latest". Returns ErrNotFound when nothing matches.
func ResolveVersion(ctx context.Context, db *DB, name, selector string) (*ArtifactVersion, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if selector == "" {
		selector = AliasLatest
	}

	version, isNumber := ParseVersionSelector(selector)
	if !isNumber {
		err := db.queryRow(ctx,
			`SELECT version FROM artifact_aliases WHERE name = ? AND alias = ?`,
			name, selector).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s:%s: %w", name, selector, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve alias: %w", err)
		}
	}

	row := db.queryRow(ctx,
		`SELECT `+versionColumns+` FROM artifact_versions WHERE name = ? AND version = ?`,
		name, version)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s:%s: %w", name, selector, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact version: %w", err)
	}

	if v.Aliases, err = aliasesFor(ctx, db, v.Name, v.Version); err != nil {
		return nil, err
	}
	return v, nil
}

// ListVersions lists artifact versions ordered by name then version.
// An empty name lists every artifact.
func ListVersions(ctx context.Context, db *DB, name string) ([]ArtifactVersion, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	q := `SELECT ` + versionColumns + ` FROM artifact_versions`
	var args []any
	if name != "" {
		q += ` WHERE name = ?`
		args = append(args, name)
	}
	q += ` ORDER BY name ASC, version ASC`

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifact versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ArtifactVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact version: %w", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list artifact versions: %w", err)
	}
	_ = rows.Close()

	aliases, err := allAliases(ctx, db, name)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Aliases = aliases[aliasKey(out[i].Name, out[i].Version)]
	}
	return out, nil
}

// LinkRunArtifact records that a run used (input) or produced (output) a
// version. Linking twice is a no-op.
func LinkRunArtifact(ctx context.Context, db *DB, runID, artifactID string, direction Direction) error {
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := db.exec(ctx,
		`INSERT INTO run_artifacts (run_id, artifact_id, direction, linked_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id, artifact_id, direction) DO NOTHING`,
		runID, artifactID, string(direction), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("link run artifact: %w", err)
	}
	return nil
}

// ListRunArtifacts returns the versions a run used and produced, inputs first.
func ListRunArtifacts(ctx context.Context, db *DB, runID string) ([]RunArtifact, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := db.query(ctx,
		`SELECT `+prefixedVersionColumns("v")+`, ra.direction, ra.linked_at
		 FROM run_artifacts ra
		 JOIN artifact_versions v ON v.artifact_id = ra.artifact_id
		 WHERE ra.run_id = ?
		 ORDER BY ra.direction ASC, ra.linked_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunArtifact
	for rows.Next() {
		var (
			ra        RunArtifact
			direction string
			linkedAt  string
		)
		v, err := scanVersion(rows, &direction, &linkedAt)
		if err != nil {
			return nil, fmt.Errorf("scan run artifact: %w", err)
		}
		ra.ArtifactVersion = *v
		ra.Direction = Direction(direction)
		if ra.LinkedAt, err = parseTime(linkedAt); err != nil {
			return nil, err
		}
		out = append(out, ra)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run artifacts: %w", err)
	}
	return out, nil
}

const versionColumns = `artifact_id, name, version, type, description, object_key, file_name,
	size_bytes, sha256, created_run_id, created_at`

func prefixedVersionColumns(alias string) string {
	cols := strings.Split(versionColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func scanVersion(row rowScanner, extra ...any) (*ArtifactVersion, error) {
	var (
		v           ArtifactVersion
		description sql.NullString
		createdRun  sql.NullString
		createdAt   string
	)
	dest := []any{
		&v.ArtifactID, &v.Name, &v.Version, &v.Type, &description, &v.ObjectKey, &v.FileName,
		&v.SizeBytes, &v.SHA256, &createdRun, &createdAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	v.Description = description.String
	v.CreatedRunID = createdRun.String

	var err error
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func upsertAlias(ctx context.Context, tx *sql.Tx, db *DB, name, alias string, version int, now time.Time) error {
	if err := validateAlias(alias); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, db.rebind(
		`INSERT INTO artifact_aliases (name, alias, version, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(name, alias) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at`),
		name, alias, version, formatTime(now))
	if err != nil {
		return fmt.Errorf("upsert alias %s: %w", alias, err)
	}
	return nil
}

func aliasesFor(ctx context.Context, db *DB, name string, version int) ([]string, error) {
	rows, err := db.query(ctx,
		`SELECT alias FROM artifact_aliases WHERE name = ? AND version = ? ORDER BY alias ASC`,
		name, version)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		out = append(out, alias)
	}
	return out, rows.Err()
}

func allAliases(ctx context.Context, db *DB, name string) (map[string][]string, error) {
	q := `SELECT name, alias, version FROM artifact_aliases`
	var args []any
	if name != "" {
		q += ` WHERE name = ?`
		args = append(args, name)
	}

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]string)
	for rows.Next() {
		var (
			n, alias string
			version  int
		)
		if err := rows.Scan(&n, &alias, &version); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		k := aliasKey(n, version)
		out[k] = append(out[k], alias)
	}
	for k := range out {
		sort.Strings(out[k])
	}
	return out, rows.Err()
}

func aliasKey(name string, version int) string {
	return name + "\x00" + strconv.Itoa(version)
}

func validateAlias(alias string) error {
	if strings.TrimSpace(alias) == "" {
		return errors.New("alias is required")
	}
	if strings.ContainsAny(alias, ": /") {
		return fmt.Errorf("invalid alias %q: must not contain ':', '/' or spaces", alias)
	}
	if _, isNumber := ParseVersionSelector(alias); isNumber {
		return fmt.Errorf("invalid alias %q: looks like a version number", alias)
	}
	return nil
}

func dedupeAliases(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
