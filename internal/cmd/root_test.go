package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cleanstep/internal/config"
	"github.com/3leaps/cleanstep/pkg/registry"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		SetVersionInfo(origVersion, origCommit, origBuildDate)
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{name: "set all values", version: "1.0.0", commit: "abc123", buildDate: "2024-01-15"},
		{name: "set dev version", version: "dev", commit: "HEAD", buildDate: "unknown"},
		{name: "set empty values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
			assert.Equal(t, tt.version, rootCmd.Version)
		})
	}
}

const rawListings = `id,name,price,minimum_nights,longitude,latitude,last_review
1,Cozy room,50,1,-73.95,40.72,2019-05-21
2,Penthouse,9999,3,-73.98,40.75,2019-06-01
3,Studio,120,2,-73.90,40.70,
4,Far away,80,1,-75.00,40.70,2019-01-01
`

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	cfg := "store:\n" +
		"  backend: file\n" +
		"  root: " + filepath.Join(root, "artifacts") + "\n" +
		"registry:\n" +
		"  path: " + filepath.Join(root, "registry.db") + "\n" +
		"runs:\n" +
		"  dir: " + filepath.Join(root, "runs") + "\n" +
		"logging:\n" +
		"  level: error\n"
	path := filepath.Join(root, "cleanstep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	t.Cleanup(func() { config.SetConfigFile("") })
	return path, root
}

func execute(args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func TestCommands_EndToEnd(t *testing.T) {
	cfgPath, root := writeTestConfig(t)

	rawPath := filepath.Join(t.TempDir(), "sample.csv")
	require.NoError(t, os.WriteFile(rawPath, []byte(rawListings), 0644))

	require.NoError(t, execute("artifact", "put", rawPath,
		"--config", cfgPath,
		"--name", "sample.csv",
		"--type", "raw_data",
		"--description", "Raw listings"))

	require.NoError(t, execute(
		"--config", cfgPath,
		"--input_artifact", "sample.csv:latest",
		"--output_artifact", "clean_sample.csv",
		"--output_type", "clean_sample",
		"--output_description", "Data with outliers and null values removed",
		"--min_price", "10",
		"--max_price", "350",
		"--work-dir", filepath.Join(root, "work")))

	// The serialized output is removed after upload.
	_, err := os.Stat(filepath.Join(root, "work", "clean_sample.csv"))
	assert.True(t, os.IsNotExist(err))

	db, err := registry.Open(context.Background(), registry.Config{Path: filepath.Join(root, "registry.db")})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	versions, err := registry.ListVersions(context.Background(), db, "clean_sample.csv")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "clean_sample", versions[0].Type)
	assert.NotEmpty(t, versions[0].CreatedRunID)

	runs, err := registry.ListRuns(context.Background(), db, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, registry.RunStatusSuccess, runs[0].Status)

	links, err := registry.ListRunArtifacts(context.Background(), db, runs[0].RunID)
	require.NoError(t, err)
	assert.Len(t, links, 2)

	require.NoError(t, execute("runs", "show", runs[0].RunID, "--config", cfgPath))
	require.NoError(t, execute("artifact", "list", "--config", cfgPath, "--pattern", "clean_*"))
}

func TestCommands_MissingInputArtifact(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	err := execute(
		"--config", cfgPath,
		"--input_artifact", "nope.csv:latest",
		"--output_artifact", "clean_sample.csv",
		"--output_type", "clean_sample",
		"--output_description", "cleaned",
		"--min_price", "10",
		"--max_price", "350")
	require.Error(t, err)

	var ee *ExitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, foundry.ExitFileNotFound, ee.Code)
}

func TestCommands_InvalidConfigFile(t *testing.T) {
	defer config.SetConfigFile("")

	err := execute("runs", "list", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	var ee *ExitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, foundry.ExitInvalidArgument, ee.Code)
}
