package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/cleanstep/pkg/output"
	"github.com/3leaps/cleanstep/pkg/registry"
	"github.com/3leaps/cleanstep/pkg/rundir"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect tracked runs",
	Long: `Inspect tracked runs: their status, attached configuration, stage
events and the artifact versions they used and produced.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Show a run with its lineage",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var (
	runsJSON  bool
	runsLimit int
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd)

	runsCmd.PersistentFlags().BoolVar(&runsJSON, "json", false, "Output as JSONL records")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to show (0 = all)")
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	svc, err := openServices(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open registry", err)
	}
	defer func() { _ = svc.Close() }()

	runs, err := registry.ListRuns(ctx, svc.db, runsLimit)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list runs", err)
	}
	if len(runs) == 0 && !runsJSON {
		_, _ = fmt.Fprintln(os.Stderr, "No runs found")
		return nil
	}

	if runsJSON {
		stream := output.NewStream(os.Stdout, svc.backend)
		defer func() { _ = stream.Close() }()
		for i := range runs {
			if err := stream.ForRun(runs[i].RunID).Emit(ctx, runRecord(&runs[i])); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "RUN ID\tJOB\tSTATUS\tLOCAL\tSTARTED\tDURATION")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID,
			r.JobType,
			r.Status,
			localState(svc.runs, r.RunID),
			ageCell(r.StartedAt),
			formatRunDuration(r),
		)
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	runID := args[0]

	svc, err := openServices(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open registry", err)
	}
	defer func() { _ = svc.Close() }()

	rec, err := loadRunRecord(ctx, svc.db, runID)
	if err != nil {
		return exitError(classifyExitCode(err), "Failed to load run", err)
	}

	if runsJSON {
		stream := output.NewStream(os.Stdout, svc.backend).ForRun(runID)
		defer func() { _ = stream.Close() }()
		if err := stream.Emit(ctx, rec); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
		return nil
	}

	printRun(rec, localState(svc.runs, runID), svc.runs.RunDir(runID))
	return nil
}

// loadRunRecord assembles a run with its events and linked artifacts.
func loadRunRecord(ctx context.Context, db *registry.DB, runID string) (*output.RunRecord, error) {
	run, err := registry.GetRun(ctx, db, runID)
	if err != nil {
		return nil, err
	}
	rec := runRecord(run)

	events, err := registry.ListRunEvents(ctx, db, runID)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		rec.Events = append(rec.Events, output.EventRecord{
			Stage:      e.Stage,
			EventType:  e.EventType,
			Detail:     e.Detail,
			OccurredAt: e.OccurredAt,
		})
	}

	links, err := registry.ListRunArtifacts(ctx, db, runID)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		a := output.ArtifactRecord{
			Ref:         l.Ref(),
			ArtifactID:  l.ArtifactID,
			Name:        l.Name,
			Version:     l.Version,
			Type:        l.Type,
			Description: l.Description,
			Aliases:     l.Aliases,
			ObjectKey:   l.ObjectKey,
			Size:        l.SizeBytes,
			SHA256:      l.SHA256,
			CreatedRun:  l.CreatedRunID,
			CreatedAt:   l.CreatedAt,
		}
		switch l.Direction {
		case registry.DirectionInput:
			rec.Inputs = append(rec.Inputs, a)
		case registry.DirectionOutput:
			rec.Outputs = append(rec.Outputs, a)
		}
	}
	return rec, nil
}

func runRecord(r *registry.Run) *output.RunRecord {
	rec := &output.RunRecord{
		RunID:     r.RunID,
		JobType:   r.JobType,
		Status:    string(r.Status),
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Error:     r.Error,
	}
	if r.ConfigJSON != "" && json.Valid([]byte(r.ConfigJSON)) {
		rec.Config = json.RawMessage(r.ConfigJSON)
	}
	return rec
}

func printRun(rec *output.RunRecord, local, runDir string) {
	fmt.Printf("Run:       %s\n", rec.RunID)
	fmt.Printf("Job type:  %s\n", rec.JobType)
	fmt.Printf("Status:    %s (local: %s)\n", rec.Status, local)
	fmt.Printf("Started:   %s\n", rec.StartedAt.Format(time.RFC3339))
	if rec.EndedAt != nil {
		fmt.Printf("Ended:     %s (%s)\n", rec.EndedAt.Format(time.RFC3339), rec.EndedAt.Sub(rec.StartedAt).Round(time.Millisecond))
	}
	if rec.Error != "" {
		fmt.Printf("Error:     %s\n", rec.Error)
	}
	fmt.Printf("Run dir:   %s\n", runDir)

	if len(rec.Config) > 0 {
		fmt.Println()
		fmt.Println("Config:")
		var cfg map[string]any
		if err := json.Unmarshal(rec.Config, &cfg); err == nil {
			for _, k := range slices.Sorted(maps.Keys(cfg)) {
				fmt.Printf("  %s: %v\n", k, cfg[k])
			}
		}
	}

	printLinks := func(title string, links []output.ArtifactRecord) {
		if len(links) == 0 {
			return
		}
		fmt.Println()
		fmt.Println(title + ":")
		for _, a := range links {
			fmt.Printf("  - %s (%s, %s)\n", a.Ref, a.Type, sizeCell(a.Size))
		}
	}
	printLinks("Inputs", rec.Inputs)
	printLinks("Outputs", rec.Outputs)

	if len(rec.Events) > 0 {
		fmt.Println()
		fmt.Println("Events:")
		for _, e := range rec.Events {
			line := fmt.Sprintf("  %s  %-8s %s", e.OccurredAt.Format("15:04:05.000"), e.Stage, e.EventType)
			if e.Detail != "" {
				line += "  " + e.Detail
			}
			fmt.Println(line)
		}
	}
}

// localState reports the run.json state, "-" when this host has none.
func localState(store *rundir.Store, runID string) string {
	rec, err := store.Get(runID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "-"
		}
		return "error"
	}
	return string(rec.State)
}

func formatRunDuration(r registry.Run) string {
	if r.EndedAt == nil {
		return "-"
	}
	return r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}
