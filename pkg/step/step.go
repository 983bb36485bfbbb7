// Package step wires the basic-cleaning pipeline step: open a run, fetch the
// input artifact, clean it, publish the result and close the run.
package step

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/3leaps/cleanstep/pkg/cleaning"
	"github.com/3leaps/cleanstep/pkg/table"
	"github.com/3leaps/cleanstep/pkg/tracking"
)

// JobType tags runs created by this step.
const JobType = "basic_cleaning"

// OutputFileName is the name of the serialized cleaned dataset.
const OutputFileName = "clean_sample.csv"

// Stage names used in logs and run events.
const (
	StageInit    = "init"
	StageFetch   = "fetch"
	StageLoad    = "load"
	StageClean   = "clean"
	StagePublish = "publish"
	StageCleanup = "cleanup"
)

// Options tunes behavior not covered by Config.
type Options struct {
	DatePolicy  cleaning.DatePolicy
	DateLayouts []string

	// WorkDir holds the serialized output. Empty uses a fresh temp dir that
	// is removed afterwards.
	WorkDir string

	Logger *zap.Logger
}

// Result summarizes a successful run.
type Result struct {
	RunID  string
	Input  string
	Output *tracking.Version
	Report cleaning.Report
}

// Run executes the step against svc. The run is always finished, with
// status failed when any stage returns an error.
func Run(ctx context.Context, svc tracking.Service, cfg Config, opts Options) (res *Result, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	log.Info("Creating run", zap.String("stage", StageInit), zap.String("job_type", JobType))
	run, err := svc.CreateRun(ctx, JobType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageInit, err)
	}
	log = log.With(zap.String("run_id", run.ID))

	// Finish must land even when ctx was cancelled mid-stage.
	defer func() {
		finishErr := svc.Finish(context.WithoutCancel(ctx), run, err)
		if finishErr != nil {
			log.Warn("Failed to finish run", zap.Error(finishErr))
			if err == nil {
				err = finishErr
				res = nil
			}
		}
	}()

	s := &stepRun{svc: svc, run: run, log: log}
	if err := s.stage(ctx, StageInit, func() error {
		return svc.AttachConfig(ctx, run, cfg)
	}); err != nil {
		return nil, err
	}

	var localInput string
	if err := s.stage(ctx, StageFetch, func() error {
		log.Info("Downloading artifact", zap.String("stage", StageFetch), zap.String("ref", cfg.InputArtifact))
		var err error
		localInput, err = svc.UseArtifact(ctx, run, cfg.InputArtifact)
		return err
	}); err != nil {
		return nil, err
	}

	var raw *table.Table
	if err := s.stage(ctx, StageLoad, func() error {
		log.Info("Reading dataset", zap.String("stage", StageLoad), zap.String("path", localInput))
		var err error
		raw, err = table.ReadFile(localInput)
		return err
	}); err != nil {
		return nil, err
	}

	var (
		cleaned *table.Table
		report  cleaning.Report
	)
	if err := s.stage(ctx, StageClean, func() error {
		log.Info("Cleaning dataset",
			zap.String("stage", StageClean),
			zap.Int("rows", raw.Len()),
			zap.Float64("min_price", cfg.MinPrice),
			zap.Float64("max_price", cfg.MaxPrice))
		var err error
		cleaned, report, err = cleaning.Clean(raw, cleaning.Options{
			MinPrice:    cfg.MinPrice,
			MaxPrice:    cfg.MaxPrice,
			DatePolicy:  opts.DatePolicy,
			DateLayouts: opts.DateLayouts,
			Logger:      log,
		})
		if err != nil {
			return err
		}
		log.Info("Dataset cleaned",
			zap.String("stage", StageClean),
			zap.Int("input_rows", report.InputRows),
			zap.Int("after_price", report.AfterPrice),
			zap.Int("missing_dates", report.MissingDates),
			zap.Int("after_bounds", report.AfterBounds),
			zap.Int("dropped", report.Dropped()))
		return nil
	}); err != nil {
		return nil, err
	}

	workDir, removeWorkDir, err := prepareWorkDir(opts.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StagePublish, err)
	}
	defer removeWorkDir()
	outPath := filepath.Join(workDir, OutputFileName)
	defer func() { _ = os.Remove(outPath) }()

	var published *tracking.Version
	if err := s.stage(ctx, StagePublish, func() error {
		log.Info("Saving cleaned dataset", zap.String("stage", StagePublish), zap.String("path", outPath))
		if err := cleaned.WriteFile(outPath); err != nil {
			return err
		}

		log.Info("Uploading artifact",
			zap.String("stage", StagePublish),
			zap.String("name", cfg.OutputArtifact),
			zap.String("type", cfg.OutputType))
		a := tracking.NewArtifact(cfg.OutputArtifact, cfg.OutputType, cfg.OutputDescription)
		if err := a.AddFile(outPath); err != nil {
			return err
		}
		var err error
		published, err = svc.LogArtifact(ctx, run, a)
		return err
	}); err != nil {
		return nil, err
	}

	if err := s.stage(ctx, StageCleanup, func() error {
		log.Info("Removing local file", zap.String("stage", StageCleanup), zap.String("path", outPath))
		return os.Remove(outPath)
	}); err != nil {
		return nil, err
	}

	log.Info("Artifact published", zap.String("ref", published.Ref()), zap.String("sha256", published.SHA256))
	return &Result{
		RunID:  run.ID,
		Input:  cfg.InputArtifact,
		Output: published,
		Report: report,
	}, nil
}

type stepRun struct {
	svc tracking.Service
	run *tracking.Run
	log *zap.Logger
}

// stage brackets fn with run events and labels its error with the stage.
func (s *stepRun) stage(ctx context.Context, name string, fn func() error) error {
	s.event(ctx, name, tracking.StageStarted, "")
	if err := fn(); err != nil {
		s.log.Error("Stage failed", zap.String("stage", name), zap.Error(err))
		s.event(context.WithoutCancel(ctx), name, tracking.StageFailed, err.Error())
		return fmt.Errorf("%s: %w", name, err)
	}
	s.event(ctx, name, tracking.StageCompleted, "")
	return nil
}

func (s *stepRun) event(ctx context.Context, name, eventType, detail string) {
	if err := s.svc.LogStage(ctx, s.run, name, eventType, detail); err != nil {
		s.log.Warn("Failed to record stage event", zap.String("stage", name), zap.Error(err))
	}
}

func prepareWorkDir(dir string) (string, func(), error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", nil, fmt.Errorf("create work dir: %w", err)
		}
		return dir, func() {}, nil
	}
	tmp, err := os.MkdirTemp("", "cleanstep-*")
	if err != nil {
		return "", nil, fmt.Errorf("create work dir: %w", err)
	}
	return tmp, func() { _ = os.RemoveAll(tmp) }, nil
}
