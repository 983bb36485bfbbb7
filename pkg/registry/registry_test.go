package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestVersion(name string) NewVersion {
	return NewVersion{
		Name:      name,
		Type:      "clean_sample",
		ObjectKey: "artifacts/" + name + "/x/" + name,
		FileName:  name,
		SizeBytes: 42,
		SHA256:    "deadbeef",
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, Migrate(ctx, db))

	var version int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&version))
	assert.Equal(t, SchemaVersion, version)
}

func TestMigrate_RefusesNewerSchema(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.ExecContext(ctx, `UPDATE schema_meta SET schema_version = ? WHERE id = 1`, SchemaVersion+1)
	require.NoError(t, err)

	err = Migrate(ctx, db)
	assert.ErrorIs(t, err, ErrSchemaTooNew)

	var version int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&version))
	assert.Equal(t, SchemaVersion+1, version)
}

func TestRebind(t *testing.T) {
	sqlite := &DB{driver: DriverSQLite}
	pg := &DB{driver: DriverPostgres}

	q := `SELECT * FROM runs WHERE run_id = ? AND status = ?`
	assert.Equal(t, q, sqlite.rebind(q))
	assert.Equal(t, `SELECT * FROM runs WHERE run_id = $1 AND status = $2`, pg.rebind(q))
}

func TestFormatTime_SortsChronologically(t *testing.T) {
	a := time.Date(2024, 1, 1, 10, 0, 0, 5, time.UTC)
	b := time.Date(2024, 1, 1, 10, 0, 0, 400000000, time.UTC)
	assert.Less(t, formatTime(a), formatTime(b))

	parsed, err := parseTime(formatTime(b))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(b))
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	run, err := CreateRun(ctx, db, "basic_cleaning")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.NotEmpty(t, run.RunID)

	require.NoError(t, SetRunConfig(ctx, db, run.RunID, `{"min_price":10}`))
	require.NoError(t, FinishRun(ctx, db, run.RunID, RunStatusSuccess, ""))

	got, err := GetRun(ctx, db, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusSuccess, got.Status)
	assert.Equal(t, `{"min_price":10}`, got.ConfigJSON)
	require.NotNil(t, got.EndedAt)

	err = FinishRun(ctx, db, run.RunID, RunStatusFailed, "again")
	assert.ErrorIs(t, err, ErrRunFinished)
}

func TestRunNotFound(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := GetRun(ctx, db, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, SetRunConfig(ctx, db, "missing", "{}"), ErrNotFound)
	assert.ErrorIs(t, FinishRun(ctx, db, "missing", RunStatusSuccess, ""), ErrNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	first, err := CreateRun(ctx, db, "basic_cleaning")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := CreateRun(ctx, db, "basic_cleaning")
	require.NoError(t, err)

	runs, err := ListRuns(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID)
	assert.Equal(t, first.RunID, runs[1].RunID)

	runs, err = ListRuns(ctx, db, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunEvents(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	run, err := CreateRun(ctx, db, "basic_cleaning")
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, RecordRunEvent(ctx, db, RunEvent{RunID: run.RunID, Stage: "fetch", EventType: EventTypeStageStarted, OccurredAt: start}))
	require.NoError(t, RecordRunEvent(ctx, db, RunEvent{RunID: run.RunID, Stage: "fetch", EventType: EventTypeStageCompleted, Detail: "ok", OccurredAt: start.Add(time.Millisecond)}))

	events, err := ListRunEvents(ctx, db, run.RunID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeStageStarted, events[0].EventType)
	assert.Equal(t, "ok", events[1].Detail)
}

func TestCreateVersion_IncrementsAndMovesLatest(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	v1, err := CreateVersion(ctx, db, newTestVersion("clean_sample.csv"))
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, []string{AliasLatest}, v1.Aliases)
	assert.Equal(t, "clean_sample.csv:v1", v1.Ref())

	nv := newTestVersion("clean_sample.csv")
	nv.Aliases = []string{"reference"}
	v2, err := CreateVersion(ctx, db, nv)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, []string{AliasLatest, "reference"}, v2.Aliases)

	latest, err := ResolveVersion(ctx, db, "clean_sample.csv", "")
	require.NoError(t, err)
	assert.Equal(t, v2.ArtifactID, latest.ArtifactID)

	byNumber, err := ResolveVersion(ctx, db, "clean_sample.csv", "v1")
	require.NoError(t, err)
	assert.Equal(t, v1.ArtifactID, byNumber.ArtifactID)
	assert.Empty(t, byNumber.Aliases)

	bare, err := ResolveVersion(ctx, db, "clean_sample.csv", "2")
	require.NoError(t, err)
	assert.Equal(t, v2.ArtifactID, bare.ArtifactID)
}

func TestCreateVersion_RequiresNameAndType(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := CreateVersion(ctx, db, NewVersion{Type: "raw"})
	assert.Error(t, err)

	_, err = CreateVersion(ctx, db, NewVersion{Name: "sample.csv"})
	assert.Error(t, err)
}

func TestResolveVersion_NotFound(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := ResolveVersion(ctx, db, "nope.csv", "latest")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = CreateVersion(ctx, db, newTestVersion("sample.csv"))
	require.NoError(t, err)

	_, err = ResolveVersion(ctx, db, "sample.csv", "v7")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ResolveVersion(ctx, db, "sample.csv", "prod")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetAlias(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := CreateVersion(ctx, db, newTestVersion("sample.csv"))
	require.NoError(t, err)
	_, err = CreateVersion(ctx, db, newTestVersion("sample.csv"))
	require.NoError(t, err)

	require.NoError(t, SetAlias(ctx, db, "sample.csv", "prod", 1))
	v, err := ResolveVersion(ctx, db, "sample.csv", "prod")
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)

	assert.ErrorIs(t, SetAlias(ctx, db, "sample.csv", "prod", 9), ErrNotFound)
	assert.Error(t, SetAlias(ctx, db, "sample.csv", "v3", 1))
	assert.Error(t, SetAlias(ctx, db, "sample.csv", "bad alias", 1))
}

func TestListVersions(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for _, name := range []string{"b.csv", "a.csv", "a.csv"} {
		_, err := CreateVersion(ctx, db, newTestVersion(name))
		require.NoError(t, err)
	}

	all, err := ListVersions(ctx, db, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a.csv:v1", all[0].Ref())
	assert.Empty(t, all[0].Aliases)
	assert.Equal(t, "a.csv:v2", all[1].Ref())
	assert.Equal(t, []string{AliasLatest}, all[1].Aliases)
	assert.Equal(t, "b.csv:v1", all[2].Ref())

	only, err := ListVersions(ctx, db, "b.csv")
	require.NoError(t, err)
	assert.Len(t, only, 1)
}

func TestRunArtifactLinks(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	run, err := CreateRun(ctx, db, "basic_cleaning")
	require.NoError(t, err)

	in, err := CreateVersion(ctx, db, newTestVersion("sample.csv"))
	require.NoError(t, err)
	nv := newTestVersion("clean_sample.csv")
	nv.CreatedRunID = run.RunID
	out, err := CreateVersion(ctx, db, nv)
	require.NoError(t, err)

	require.NoError(t, LinkRunArtifact(ctx, db, run.RunID, in.ArtifactID, DirectionInput))
	require.NoError(t, LinkRunArtifact(ctx, db, run.RunID, in.ArtifactID, DirectionInput))
	require.NoError(t, LinkRunArtifact(ctx, db, run.RunID, out.ArtifactID, DirectionOutput))

	links, err := ListRunArtifacts(ctx, db, run.RunID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, DirectionInput, links[0].Direction)
	assert.Equal(t, "sample.csv", links[0].Name)
	assert.Equal(t, DirectionOutput, links[1].Direction)
	assert.Equal(t, run.RunID, links[1].CreatedRunID)
}

func TestParseVersionSelector(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"v1", 1, true},
		{"12", 12, true},
		{"latest", 0, false},
		{"v", 0, false},
		{"v0", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseVersionSelector(tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
