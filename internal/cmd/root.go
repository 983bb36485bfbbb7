// Package cmd implements the cleanstep command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cleanstep/internal/config"
	"github.com/3leaps/cleanstep/internal/observability"
)

const appName = "cleanstep"

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile  string
	logLevel string
	verbose  bool

	// appConfig is resolved in the root PersistentPreRunE.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Basic cleaning step for tracked datasets",
	Long: `cleanstep runs the basic cleaning step of a data pipeline.

It opens a tracked run, downloads the input artifact, drops rows with a
price outside [min_price, max_price], coerces last_review to dates, keeps
only listings inside the NYC bounding box, and publishes the result as a
new artifact version linked to the run.

Example:
  cleanstep --input_artifact sample.csv:latest \
    --output_artifact clean_sample.csv \
    --output_type clean_sample \
    --output_description "Data with outliers and null values removed" \
    --min_price 10 --max_price 350`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
	RunE:              runStep,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./cleanstep.yaml, then user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	registerStepFlags(rootCmd)
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	rootCmd.Version = version
}

// Execute runs the root command and exits with the mapped code on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	code := exitFailure
	var ee *ExitError
	if errors.As(err, &ee) {
		code = ee.Code
	} else if errors.Is(err, context.Canceled) {
		code = foundry.ExitSignalInt
	}
	ExitWithCode(observability.CLILogger, code, "Command failed", err)
}

// initRuntime loads configuration and initializes logging for every command.
func initRuntime(cmd *cobra.Command, _ []string) error {
	config.SetConfigFile(cfgFile)

	var overrides []map[string]any
	if logLevel != "" {
		overrides = append(overrides, map[string]any{
			"logging": map[string]any{"level": logLevel},
		})
	}

	cfg, err := config.Load(cmd.Context(), overrides...)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	observability.SetProfile(cfg.Logging.Profile)
	observability.InitCLILogger(appName, verbose)
	if !verbose {
		if err := observability.SetLevel(cfg.Logging.Level); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid log level", fmt.Errorf("%q: %w", cfg.Logging.Level, err))
		}
	}

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("registry_driver", cfg.Registry.Driver),
		zap.String("runs_dir", cfg.Runs.Dir))

	appConfig = cfg
	return nil
}
