package rundir

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WriteGetRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		RunID:     "run-1",
		JobType:   "basic_cleaning",
		State:     StateRunning,
		PID:       os.Getpid(),
		CreatedAt: now,
		Inputs:    []ArtifactRef{{Ref: "sample.csv:v1", ArtifactID: "a1", Type: "raw_data"}},
	}
	require.NoError(t, s.Write(rec))

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, StateRunning, got.State)
	require.Len(t, got.Inputs, 1)
	assert.Equal(t, "sample.csv:v1", got.Inputs[0].Ref)

	entries, err := os.ReadDir(s.RunDir("run-1"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not linger")
}

func TestStore_ConfigSnapshot(t *testing.T) {
	s := NewStore(t.TempDir())

	type cfg struct {
		InputArtifact string  `yaml:"input_artifact"`
		MinPrice      float64 `yaml:"min_price"`
	}
	require.NoError(t, s.WriteConfig("run-1", cfg{InputArtifact: "sample.csv:latest", MinPrice: 10}))

	var got cfg
	require.NoError(t, s.ReadConfig("run-1", &got))
	assert.Equal(t, "sample.csv:latest", got.InputArtifact)
	assert.Equal(t, 10.0, got.MinPrice)
}

func TestStore_CacheLifecycle(t *testing.T) {
	s := NewStore(t.TempDir())

	dir, err := s.EnsureCache("run-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.csv"), []byte("x"), 0644))

	require.NoError(t, s.RemoveCache("run-1"))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, s.RemoveCache("run-1"))
}

func TestStore_StaleRunningRecordBecomesUnknown(t *testing.T) {
	s := NewStore(t.TempDir())
	// Above any Linux pid_max.
	require.NoError(t, s.Write(&Record{RunID: "run-1", State: StateRunning, PID: 1<<31 - 2, CreatedAt: time.Now().UTC()}))

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, got.State)

	again, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, again.State)
}

func TestStore_MissingRecord(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Get("run-404")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestStore_RequiresRunID(t *testing.T) {
	s := NewStore(t.TempDir())
	assert.Error(t, s.Write(&Record{}))
	assert.Error(t, s.Write(nil))
	_, err := s.Get(" ")
	assert.Error(t, err)

	for _, id := range []string{"..", "a/b", `a\b`} {
		assert.Error(t, s.Write(&Record{RunID: id}), id)
		_, err := s.EnsureCache(id)
		assert.Error(t, err, id)
	}
	assert.Error(t, NewStore("").Write(&Record{RunID: "run-1"}))
}
