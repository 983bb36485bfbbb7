package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cleanstep/internal/observability"
	"github.com/3leaps/cleanstep/pkg/match"
	"github.com/3leaps/cleanstep/pkg/output"
	"github.com/3leaps/cleanstep/pkg/tracking"
)

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Manage artifact versions",
	Long: `Publish, download, list and alias versioned artifacts.

Artifacts are referenced as name:version or name:alias. A bare name means
name:latest.`,
}

var artifactPutCmd = &cobra.Command{
	Use:   "put <file>",
	Short: "Publish a local file as a new artifact version",
	Long: `Publish a local file as the next version of an artifact.

Example:
  cleanstep artifact put data/sample.csv --name sample.csv --type raw_data \
    --description "Raw Airbnb listings"`,
	Args: cobra.ExactArgs(1),
	RunE: runArtifactPut,
}

var artifactGetCmd = &cobra.Command{
	Use:   "get <ref>",
	Short: "Download an artifact version",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtifactGet,
}

var artifactListCmd = &cobra.Command{
	Use:   "list [name]",
	Short: "List artifact versions",
	Long: `List registered artifact versions, optionally for a single artifact.

Examples:
  cleanstep artifact list
  cleanstep artifact list clean_sample.csv
  cleanstep artifact list --pattern 'clean_*' --json
  cleanstep artifact list --type raw_data --exclude 'tmp_*'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runArtifactList,
}

var artifactAliasCmd = &cobra.Command{
	Use:   "alias <ref> <alias>",
	Short: "Point an alias at an artifact version",
	Args:  cobra.ExactArgs(2),
	RunE:  runArtifactAlias,
}

var (
	artifactName        string
	artifactType        string
	artifactDescription string
	artifactAliases     []string
	artifactOutput      string
	artifactPatterns    []string
	artifactExcludes    []string
	artifactTypes       []string
	artifactJSON        bool
)

func init() {
	rootCmd.AddCommand(artifactCmd)
	artifactCmd.AddCommand(artifactPutCmd, artifactGetCmd, artifactListCmd, artifactAliasCmd)

	artifactCmd.PersistentFlags().BoolVar(&artifactJSON, "json", false, "Output as JSONL records")

	artifactPutCmd.Flags().StringVar(&artifactName, "name", "", "Artifact name (required)")
	artifactPutCmd.Flags().StringVar(&artifactType, "type", "", "Artifact type (required)")
	artifactPutCmd.Flags().StringVar(&artifactDescription, "description", "", "Artifact description")
	artifactPutCmd.Flags().StringSliceVar(&artifactAliases, "alias", nil, "Extra alias for the new version (repeatable)")
	_ = artifactPutCmd.MarkFlagRequired("name")
	_ = artifactPutCmd.MarkFlagRequired("type")

	artifactGetCmd.Flags().StringVarP(&artifactOutput, "output", "o", "", "Destination path (default: ./<file name>)")

	artifactListCmd.Flags().StringSliceVar(&artifactPatterns, "pattern", nil, "Glob over artifact names (repeatable)")
	artifactListCmd.Flags().StringSliceVar(&artifactExcludes, "exclude", nil, "Glob of artifact names to skip (repeatable)")
	artifactListCmd.Flags().StringSliceVar(&artifactTypes, "type", nil, "Only list artifacts of this type (repeatable)")
}

func runArtifactPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a := tracking.NewArtifact(artifactName, artifactType, artifactDescription)
	a.Aliases = artifactAliases
	if err := a.AddFile(args[0]); err != nil {
		return exitError(foundry.ExitFileNotFound, "Cannot read artifact file", err)
	}

	svc, err := openServices(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open artifact store", err)
	}
	defer func() { _ = svc.Close() }()

	v, err := svc.tracker.Publish(ctx, a)
	if err != nil {
		observability.CLILogger.Error("Failed to publish artifact", zap.String("name", artifactName), zap.Error(err))
		return exitError(classifyExitCode(err), "Failed to publish artifact", err)
	}

	observability.CLILogger.Info("Artifact published",
		zap.String("ref", v.Ref()),
		zap.String("object_key", v.ObjectKey),
		zap.Int64("size", v.Size))
	return printVersions(ctx, svc.backend, []tracking.Version{*v})
}

func runArtifactGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, err := openServices(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open artifact store", err)
	}
	defer func() { _ = svc.Close() }()

	v, err := svc.tracker.Resolve(ctx, args[0])
	if err != nil {
		return exitError(classifyExitCode(err), "Failed to resolve artifact", err)
	}

	dest := artifactOutput
	if dest == "" {
		dest = v.FileName
	}
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to create destination directory", err)
		}
	}

	// Download by canonical ref so a moving alias cannot change the payload.
	if _, err := svc.tracker.Download(ctx, v.Ref(), dest); err != nil {
		return exitError(classifyExitCode(err), "Failed to download artifact", err)
	}

	observability.CLILogger.Info("Artifact downloaded",
		zap.String("ref", v.Ref()),
		zap.String("path", dest),
		zap.String("sha256", v.SHA256))
	return printVersions(ctx, svc.backend, []tracking.Version{*v})
}

func runArtifactList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sel, err := match.Compile(match.Filter{Names: artifactPatterns, Exclude: artifactExcludes, Types: artifactTypes})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid artifact filter", err)
	}
	observability.CLILogger.Debug("Listing artifacts", zap.Stringer("filter", sel))

	svc, err := openServices(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open artifact store", err)
	}
	defer func() { _ = svc.Close() }()

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	versions, err := svc.tracker.ListVersions(ctx, name)
	if err != nil {
		return exitError(classifyExitCode(err), "Failed to list artifacts", err)
	}

	versions = filterVersions(versions, sel)
	if len(versions) == 0 && !artifactJSON {
		_, _ = fmt.Fprintln(os.Stderr, "No artifacts found")
		return nil
	}
	return printVersions(ctx, svc.backend, versions)
}

func runArtifactAlias(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, err := openServices(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open artifact store", err)
	}
	defer func() { _ = svc.Close() }()

	v, err := svc.tracker.SetAlias(ctx, args[0], args[1])
	if err != nil {
		return exitError(classifyExitCode(err), "Failed to set alias", err)
	}

	observability.CLILogger.Info("Alias updated", zap.String("alias", args[1]), zap.String("ref", v.Ref()))
	return printVersions(ctx, svc.backend, []tracking.Version{*v})
}

func filterVersions(versions []tracking.Version, sel *match.Selector) []tracking.Version {
	if sel == nil {
		return versions
	}
	out := versions[:0]
	for _, v := range versions {
		if sel.Select(v.Name, v.Type) {
			out = append(out, v)
		}
	}
	return out
}

func printVersions(ctx context.Context, backend string, versions []tracking.Version) error {
	if artifactJSON {
		stream := output.NewStream(os.Stdout, backend)
		defer func() { _ = stream.Close() }()
		for i := range versions {
			if err := stream.Emit(ctx, artifactRecord(versions[i])); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "REF\tTYPE\tSIZE\tALIASES\tCREATED\tSHA256")
	for _, v := range versions {
		aliases := "-"
		if len(v.Aliases) > 0 {
			aliases = strings.Join(v.Aliases, ",")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.Ref(),
			v.Type,
			sizeCell(v.Size),
			aliases,
			ageCell(v.CreatedAt),
			shortDigest(v.SHA256),
		)
	}
	return nil
}

func artifactRecord(v tracking.Version) *output.ArtifactRecord {
	return &output.ArtifactRecord{
		Ref:         v.Ref(),
		ArtifactID:  v.ArtifactID,
		Name:        v.Name,
		Version:     v.Version,
		Type:        v.Type,
		Description: v.Description,
		Aliases:     v.Aliases,
		ObjectKey:   v.ObjectKey,
		Size:        v.Size,
		SHA256:      v.SHA256,
		CreatedRun:  v.CreatedRunID,
		CreatedAt:   v.CreatedAt,
	}
}

func shortDigest(d string) string {
	if len(d) <= 12 {
		return d
	}
	return d[:12]
}
