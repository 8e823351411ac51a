package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/verifarm/internal/config"
	"github.com/3leaps/verifarm/internal/observability"
	"github.com/3leaps/verifarm/pkg/history"
)

func newDoctorCmd() *cobra.Command {
	var outputDir string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks",
		Long: `Check the environment a batch depends on and suggest fixes for common issues.

Examples:
  verifarm doctor                 # Environment and history checks
  verifarm doctor -O ./out        # Also check the output directory is writable`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runDoctor(cmd.Context(), outputDir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output-dir", "O", "", "Output directory to check for write access")
	return cmd
}

type doctorCheck struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func runDoctor(ctx context.Context, outputDir string) {
	log := observability.CLILogger
	cfg := config.GetConfig()

	checks := []doctorCheck{
		{"Go runtime", func(context.Context) (string, error) {
			return fmt.Sprintf("%s %s/%s, %d hardware threads", runtime.Version(), runtime.GOOS, runtime.GOARCH, runtime.NumCPU()), nil
		}},
		{"History database", func(ctx context.Context) (string, error) {
			if cfg == nil || !cfg.History.Enabled {
				return "disabled", nil
			}
			return checkHistory(ctx, cfg.History)
		}},
	}
	if outputDir != "" {
		checks = append(checks, doctorCheck{"Output directory", func(context.Context) (string, error) {
			return checkWritable(outputDir)
		}})
	}
	if cfg != nil && cfg.Publish.Enabled && cfg.Publish.Provider == "s3" {
		checks = append(checks, doctorCheck{"AWS credentials", func(ctx context.Context) (string, error) {
			return checkAWSCredentials(ctx, cfg.Publish.Profile)
		}})
	}

	log.Info("=== " + binaryName + " doctor ===")
	ok := true
	for i, c := range checks {
		detail, err := c.run(ctx)
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		if err != nil {
			ok = false
			log.Error(prefix+" ❌ "+detail, zap.Error(err))
			if c.name == "AWS credentials" {
				printAWSCredentialsHelp()
			}
			continue
		}
		log.Info(prefix + " ✅ " + detail)
	}

	if ok {
		log.Info("✅ All checks passed!")
	} else {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
}

func checkHistory(ctx context.Context, cfg config.HistoryConfig) (string, error) {
	hc, err := historyStoreConfig(cfg)
	if err != nil {
		return "cannot locate database", err
	}
	db, err := history.Open(ctx, hc)
	if err != nil {
		return "cannot open database", err
	}
	defer func() { _ = db.Close() }()
	if err := history.Migrate(ctx, db); err != nil {
		return "cannot migrate schema", err
	}
	where := hc.Path
	if hc.URL != "" {
		where = hc.URL
	}
	return where, nil
}

func checkWritable(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "cannot create " + dir, err
	}
	f, err := os.CreateTemp(dir, ".verifarm-doctor-*")
	if err != nil {
		return "cannot write to " + dir, err
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	abs, _ := filepath.Abs(dir)
	return abs, nil
}

func checkAWSCredentials(ctx context.Context, profile string) (string, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "cannot load AWS config", err
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "cannot retrieve credentials", err
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("%s via %s", maskAccessKey(creds.AccessKeyID), source), nil
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
	log.Info("To configure AWS credentials for publishing:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Set publish.profile to a profile from ~/.aws/config, or")
	log.Info("  3. Use an IAM role when running on AWS infrastructure")
	log.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set publish.endpoint.")
}
