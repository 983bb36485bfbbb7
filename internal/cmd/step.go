package cmd

import (
	"context"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cleanstep/internal/observability"
	"github.com/3leaps/cleanstep/pkg/cleaning"
	"github.com/3leaps/cleanstep/pkg/output"
	"github.com/3leaps/cleanstep/pkg/step"
)

var (
	stepCfg     step.Config
	stepWorkDir string
	stepJSON    bool
)

func registerStepFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVar(&stepCfg.InputArtifact, "input_artifact", "", "Reference of the raw dataset artifact, e.g. sample.csv:latest (required)")
	f.StringVar(&stepCfg.OutputArtifact, "output_artifact", "", "Name of the cleaned dataset artifact (required)")
	f.StringVar(&stepCfg.OutputType, "output_type", "", "Type of the output artifact (required)")
	f.StringVar(&stepCfg.OutputDescription, "output_description", "", "Description of the output artifact (required)")
	f.Float64Var(&stepCfg.MinPrice, "min_price", 0, "Minimum price to keep, inclusive (required)")
	f.Float64Var(&stepCfg.MaxPrice, "max_price", 0, "Maximum price to keep, inclusive (required)")
	f.StringVar(&stepWorkDir, "work-dir", "", "Directory for the serialized output (default: temp dir)")
	f.BoolVar(&stepJSON, "json", false, "Emit a JSONL result record on stdout")

	for _, name := range []string{"input_artifact", "output_artifact", "output_type", "output_description", "min_price", "max_price"} {
		_ = c.MarkFlagRequired(name)
	}
}

func runStep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := observability.CLILogger

	if err := stepCfg.Validate(); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", err)
	}
	policy, err := cleaning.ParseDatePolicy(appConfig.Cleaning.DatePolicy)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid date policy", err)
	}

	svc, err := openServices(ctx, appConfig)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open artifact store", err)
	}
	defer func() { _ = svc.Close() }()

	start := time.Now()
	res, err := step.Run(ctx, svc.tracker, stepCfg, step.Options{
		DatePolicy:  policy,
		DateLayouts: appConfig.Cleaning.DateLayouts,
		WorkDir:     stepWorkDir,
		Logger:      log,
	})
	if err != nil {
		if stepJSON {
			emitStepError(ctx, svc.backend, err)
		}
		return exitError(classifyExitCode(err), "Cleaning step failed", err)
	}

	log.Info("Cleaning step completed",
		zap.String("run_id", res.RunID),
		zap.String("input", res.Input),
		zap.String("output", res.Output.Ref()),
		zap.Int("rows_in", res.Report.InputRows),
		zap.Int("rows_out", res.Report.AfterBounds),
		zap.Int("rows_dropped", res.Report.Dropped()),
		zap.Duration("duration", time.Since(start)))

	if !stepJSON {
		return nil
	}
	stream := output.NewStream(os.Stdout, svc.backend).ForRun(res.RunID)
	defer func() { _ = stream.Close() }()
	elapsed := time.Since(start)
	if err := stream.Emit(ctx, &output.ResultRecord{
		Input:         res.Input,
		Output:        res.Output.Ref(),
		InputRows:     res.Report.InputRows,
		AfterPrice:    res.Report.AfterPrice,
		MissingDates:  res.Report.MissingDates,
		OutputRows:    res.Report.AfterBounds,
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
	}); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write result", err)
	}
	return nil
}

func emitStepError(ctx context.Context, backend string, err error) {
	stream := output.NewStream(os.Stdout, backend)
	defer func() { _ = stream.Close() }()
	if werr := stream.Emit(context.WithoutCancel(ctx), &output.ErrorRecord{
		Code:    classifyErrorCode(err),
		Message: err.Error(),
	}); werr != nil {
		observability.CLILogger.Debug("Failed to emit step error record", zap.Error(werr))
	}
}
