// Package cmd implements the verifarm command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/verifarm/internal/config"
	"github.com/3leaps/verifarm/internal/observability"
	"github.com/3leaps/verifarm/internal/server/handlers"
)

const binaryName = "verifarm"

// VersionInfo is build metadata injected through SetVersionInfo.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

var (
	cfgFile   string
	logLevel  string
	logFormat string
	verbose   bool
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   binaryName,
		Short: "Run a batch of verification jobs across a worker pool",
		Long: `verifarm expands job submissions into one run directory per job, executes
the run script for every job on a pool of workers, and writes a pass/fail
summary for the project.

Examples:
  verifarm run -O ./out -P regress -U alu -R ./run.sh -F 'tests/*.cfg' -N 3 -Z
  verifarm run -S submissions.yaml -X 10
  verifarm plan -S submissions.yaml
  verifarm history --limit 5`,
		Version:           versionInfo.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./verifarm.yaml or $XDG_CONFIG_HOME/verifarm/verifarm.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.StringVar(&logFormat, "log-format", "", "Log format (console|json)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --log-level debug")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return exitError(foundry.ExitInvalidArgument, "Invalid flags", err)
	})

	cmd.AddCommand(newRunCmd(), newPlanCmd(), newHistoryCmd(), newDoctorCmd(), newVersionCmd())
	return cmd
}

// SetVersionInfo records build metadata for the version command and the
// status endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo = VersionInfo{Version: version, Commit: commit, BuildDate: buildDate}
	rootCmd.Version = version
	handlers.SetVersionInfo(handlers.VersionInfo{
		Name:      binaryName,
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	})
}

func initConfig(cmd *cobra.Command, _ []string) error {
	overrides := map[string]any{}
	logging := map[string]any{}
	if logLevel != "" {
		logging["level"] = logLevel
	}
	if verbose {
		logging["level"] = "debug"
	}
	if logFormat != "" {
		logging["format"] = logFormat
	}
	if len(logging) > 0 {
		overrides["logging"] = logging
	}

	cfg, err := config.LoadWithFile(cmd.Context(), cfgFile, overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	if err := observability.ConfigureCLILogger(binaryName, observability.LoggerOptions{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return ExecuteContext(context.Background(), os.Args[1:])
}

// ExecuteContext runs the root command with args.
func ExecuteContext(ctx context.Context, args []string) int {
	return execute(ctx, rootCmd, args)
}

func execute(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	code := ExitCodeFor(err)
	observability.CLILogger.Error("Command failed", zap.Error(err), zap.Int("exit_code", code))
	if observability.CLILogger.Core().Enabled(zap.ErrorLevel) {
		return code
	}
	// Logger not configured yet (flag or config errors).
	_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return code
}
