package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cleanstep/internal/config"
	"github.com/3leaps/cleanstep/internal/observability"
	"github.com/3leaps/cleanstep/pkg/provider"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the configured registry, artifact store and
run directory, and suggest fixes for common issues.

Examples:
  cleanstep doctor
  cleanstep doctor --config prod.yaml`,
	RunE: runDoctor,
}

var doctorWriteProbe bool

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorWriteProbe, "write-probe", false, "Also put and delete a probe object in the store")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := appConfig
	log := observability.CLILogger

	log.Info("=== " + appName + " doctor ===")
	log.Info("")

	totalChecks := 4
	if cfg.Store.Backend == config.BackendS3 {
		totalChecks++
	}
	checkNum := 1
	allChecks := true

	log.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s %s/%s", checkNum, totalChecks, runtime.Version(), runtime.GOOS, runtime.GOARCH),
		zap.String("version", versionInfo.Version))
	checkNum++

	if err := checkRunsDir(cfg.Runs.Dir); err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking run directory... ❌ %s is not writable", checkNum, totalChecks, cfg.Runs.Dir), zap.Error(err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking run directory... ✅ %s", checkNum, totalChecks, cfg.Runs.Dir))
	}
	checkNum++

	db, err := openRegistry(ctx, cfg.Registry)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking registry... ❌ Cannot open %s registry", checkNum, totalChecks, cfg.Registry.Driver), zap.Error(err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking registry... ✅ %s", checkNum, totalChecks, db.Driver()))
		_ = db.Close()
	}
	checkNum++

	if cfg.Store.Backend == config.BackendS3 {
		allChecks = checkAWSCredentials(ctx, checkNum, totalChecks) && allChecks
		checkNum++
	}

	if err := checkStore(ctx, cfg.Store, doctorWriteProbe); err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking %s store... ❌ Not reachable", checkNum, totalChecks, cfg.Store.Backend), zap.Error(err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking %s store... ✅ Reachable", checkNum, totalChecks, cfg.Store.Backend))
	}

	log.Info("")
	if !allChecks {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
		return exitError(exitFailure, "Diagnostics failed", nil)
	}
	log.Info("✅ All checks passed!")
	return nil
}

func checkRunsDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func checkStore(ctx context.Context, cfg config.StoreConfig, writeProbe bool) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Ping(ctx, cfg.Prefix); err != nil {
		return err
	}
	if !writeProbe {
		return nil
	}

	key := probeKey(cfg.Prefix)
	if err := store.Put(ctx, key, strings.NewReader(""), provider.PutInfo{Size: 0}); err != nil {
		return fmt.Errorf("write probe: %w", err)
	}
	if err := store.Remove(ctx, key); err != nil {
		return fmt.Errorf("write probe cleanup %s: %w", key, err)
	}
	return nil
}

func probeKey(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	name := "_cleanstep/doctor-" + uuid.NewString()
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func checkAWSCredentials(ctx context.Context, checkNum, totalChecks int) bool {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks), zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks), zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", source))
	return true
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure AWS credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Set store.profile to a profile from 'aws configure', or")
	log.Info("  3. Set store.access_key_id and store.secret_access_key in cleanstep.yaml")
	log.Info("")
}
