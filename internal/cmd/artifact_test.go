package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cleanstep/pkg/match"
	"github.com/3leaps/cleanstep/pkg/tracking"
)

func TestFilterVersions(t *testing.T) {
	versions := []tracking.Version{
		{Name: "sample.csv", Version: 1, Type: "raw_data"},
		{Name: "clean_sample.csv", Version: 1, Type: "clean_sample"},
		{Name: "clean_sample.csv", Version: 2, Type: "clean_sample"},
		{Name: "model.pkl", Version: 1, Type: "model"},
	}

	assert.Len(t, filterVersions(append([]tracking.Version(nil), versions...), nil), 4)

	sel, err := match.Compile(match.Filter{Names: []string{"*.csv"}, Exclude: []string{"clean_*"}})
	require.NoError(t, err)
	got := filterVersions(append([]tracking.Version(nil), versions...), sel)
	require.Len(t, got, 1)
	assert.Equal(t, "sample.csv:v1", got[0].Ref())

	sel, err = match.Compile(match.Filter{Types: []string{"clean_sample"}})
	require.NoError(t, err)
	got = filterVersions(append([]tracking.Version(nil), versions...), sel)
	require.Len(t, got, 2)
	assert.Equal(t, "clean_sample.csv:v2", got[1].Ref())
}

func TestArtifactRecord(t *testing.T) {
	rec := artifactRecord(tracking.Version{
		ArtifactID:   "a1",
		Name:         "clean_sample.csv",
		Version:      3,
		Type:         "clean_sample",
		SHA256:       "abc",
		CreatedRunID: "r1",
	})
	assert.Equal(t, "clean_sample.csv:v3", rec.Ref)
	assert.Equal(t, "r1", rec.CreatedRun)
	assert.Equal(t, "clean_sample", rec.Type)
}

func TestTableCells(t *testing.T) {
	assert.Equal(t, "512 B", sizeCell(512))
	assert.Equal(t, "1.5 KiB", sizeCell(1536))
	assert.Equal(t, "2.0 MiB", sizeCell(2*1024*1024))
	assert.Equal(t, "-", sizeCell(-1))

	assert.Equal(t, "-", ageCell(time.Time{}))
	assert.Equal(t, "2 hours ago", ageCell(time.Now().Add(-2*time.Hour)))
}

func TestShortDigest(t *testing.T) {
	assert.Equal(t, "abc", shortDigest("abc"))
	assert.Equal(t, "0123456789ab", shortDigest("0123456789abcdef"))
}
