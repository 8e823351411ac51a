package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/verifarm/internal/config"
	"github.com/3leaps/verifarm/internal/console"
	"github.com/3leaps/verifarm/internal/observability"
	"github.com/3leaps/verifarm/internal/server"
	"github.com/3leaps/verifarm/internal/server/handlers"
	"github.com/3leaps/verifarm/pkg/engine"
	"github.com/3leaps/verifarm/pkg/history"
	"github.com/3leaps/verifarm/pkg/output"
	"github.com/3leaps/verifarm/pkg/provider"
	"github.com/3leaps/verifarm/pkg/provider/file"
	"github.com/3leaps/verifarm/pkg/provider/s3"
	"github.com/3leaps/verifarm/pkg/publish"
	"github.com/3leaps/verifarm/pkg/submission"
)

type runOptions struct {
	submissionFlags

	dryRun    bool
	events    string
	status    bool
	noHistory bool
	publish   bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Expand submissions and run every job",
		Long: `Expand one submission (from flags) or every unit of a submissions file into
jobs, run them on a worker pool, and write pass_fail_summary.csv into the
project directory.

Each job runs in <output-dir>/<project>/<unit>/<timestamp>/<00000>/ with
JOB_ID set and its stdout/stderr captured to runlog.stdout and runlog.stderr.
Ctrl-C stops new jobs from starting; running jobs finish and the summary is
still written.

Examples:
  verifarm run -O ./out -P regress -U alu -R ./run.sh -F 'tests/*.cfg' -N 3 -Z
  verifarm run -O ./out -P regress -U alu -R ./run.sh -T 8 -X 5 -K
  verifarm run -S submissions.yaml --events events.jsonl
  verifarm run -S submissions.yaml --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd, opts)
		},
	}

	opts.bind(cmd)
	fs := cmd.Flags()
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Show the expansion plan without creating directories or running jobs")
	fs.StringVar(&opts.events, "events", "", "Write a JSONL event stream to this file (\"-\" for stdout)")
	fs.BoolVar(&opts.status, "status", false, "Serve /health and /status while the batch runs")
	fs.BoolVar(&opts.noHistory, "no-history", false, "Do not record this run in the history database")
	fs.BoolVar(&opts.publish, "publish", false, "Publish the report and artifacts after the batch (see publish.* config)")
	return cmd
}

func runBatch(cmd *cobra.Command, opts *runOptions) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()
	if cfg == nil {
		return exitError(ExitInternal, "Configuration not loaded", errors.New("config.Load was not called"))
	}
	logger := observability.CLILogger

	subs, err := opts.submissions(cmd)
	if err != nil {
		return err
	}
	workers, err := opts.workers(cmd, cfg.Workers)
	if err != nil {
		return err
	}

	eventsPath := opts.events
	if eventsPath == "" {
		eventsPath = cfg.Events.Path
	}
	out := cmd.OutOrStdout()
	if eventsPath == "-" {
		out = cmd.ErrOrStderr()
	}
	con := console.New(out, isTerminal(out))

	if opts.dryRun {
		return showPlans(con, subs)
	}

	con.Banner(binaryName, versionInfo.Version)
	for _, s := range subs {
		if s.Disposition == submission.DispositionNone {
			con.Warn(fmt.Sprintf("passing run directories of unit %s will NOT be compressed or removed; repeated runs can use a lot of disk space", s.Unit))
		}
	}

	batch := engine.NewBatch()
	expander := engine.NewExpander(batch, engine.ExpanderConfig{Logger: logger})
	plans := make([]*output.PlanRecord, 0, len(subs))
	for _, s := range subs {
		plan, err := expander.Plan(s)
		if err != nil {
			return expansionError(s, err)
		}
		plans = append(plans, output.NewPlanRecord(s.Unit, plan))
		if _, err := expander.Expand(s); err != nil {
			return expansionError(s, err)
		}
	}

	runID := uuid.NewString()
	project := subs[0].Project

	var sink *output.EventSink
	var events output.Writer
	if eventsPath != "" {
		w, closeEvents, err := openEvents(eventsPath, cmd.OutOrStdout(), runID, project)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to open event stream", err)
		}
		defer closeEvents()
		events = w
		sink = output.NewEventSink(w, logger)
		for _, p := range plans {
			if err := w.WritePlan(ctx, p); err != nil {
				logger.Warn("Failed to write plan record", zap.Error(err))
			}
		}
	}

	if opts.status || cfg.Status.Enabled {
		srv := server.New(cfg.Status.Host, cfg.Status.Port)
		handlers.InitHealthManager(versionInfo.Version)
		handlers.GetHealthManager().RegisterChecker("batch", srv.Status())
		if err := srv.Start(ctx); err != nil {
			logger.Warn("Status server disabled", zap.Error(err))
		} else {
			defer func() { _ = srv.Shutdown(context.Background()) }()
			srv.Status().Attach(batch, runID, project, workers)
		}
	}

	con.Workers(runtime.NumCPU(), workers)

	ecfg := engine.Config{
		Workers:         workers,
		MonitorInterval: cfg.Monitor.Interval,
		RunID:           runID,
		Logger:          logger,
		Progress:        con.Progress,
	}
	if sink != nil {
		ecfg.Sink = sink
		ecfg.Progress = func(s engine.Snapshot) {
			con.Progress(s)
			sink.Progress(s)
		}
	}

	res, runErr := engine.NewCoordinator(batch, ecfg).Run(ctx)
	if errors.Is(runErr, engine.ErrNothingQueued) {
		con.Warn("no jobs were queued")
		return exitError(ExitNothingQueued, "Nothing to do", runErr)
	}
	var reportErr *engine.ReportError
	if runErr != nil && !errors.As(runErr, &reportErr) {
		return exitError(ExitInternal, "Batch failed", runErr)
	}

	con.Summary(res)
	if events != nil {
		if reportErr != nil {
			writeEventError(ctx, events, output.ErrCodeReport, reportErr)
		}
		if res.Snapshot.SystemFailure {
			writeEventError(ctx, events, output.ErrCodeSystemFailure, errSystemFailure)
		}
		if err := events.WriteSummary(ctx, output.NewSummaryRecord(res)); err != nil {
			logger.Warn("Failed to write summary record", zap.Error(err))
		}
	}

	if cfg.History.Enabled && !opts.noHistory {
		if err := recordHistory(ctx, cfg.History, project, res); err != nil {
			logger.Warn("Failed to record run history", zap.Error(err))
			if events != nil {
				writeEventError(ctx, events, output.ErrCodeHistory, err)
			}
		}
	}

	var publishErr error
	if opts.publish || cfg.Publish.Enabled {
		publishErr = publishResults(ctx, cfg.Publish, runID, res, events, logger)
		if publishErr != nil && events != nil {
			writeEventError(ctx, events, output.ErrCodePublish, publishErr)
		}
	}

	switch {
	case reportErr != nil:
		return exitError(foundry.ExitFileWriteError, "Failed to write summary report", reportErr)
	case res.Snapshot.SystemFailure:
		return exitError(ExitInternal, "System fail detected", errSystemFailure)
	case publishErr != nil:
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to publish results", publishErr)
	}
	return nil
}

func showPlans(con *console.Console, subs []submission.Submission) error {
	expander := engine.NewExpander(engine.NewBatch(), engine.ExpanderConfig{Logger: observability.CLILogger})
	jobs := 0
	for _, s := range subs {
		plan, err := expander.Plan(s)
		if err != nil {
			return expansionError(s, err)
		}
		con.Plan(s.Unit, plan)
		jobs += plan.Jobs
	}
	if jobs == 0 {
		con.Warn("no jobs would be queued")
	}
	return nil
}

func expansionError(s submission.Submission, err error) error {
	var pathErr *engine.PathResolutionError
	var cfgErr *submission.ConfigError
	switch {
	case errors.As(err, &pathErr):
		return exitError(foundry.ExitFileNotFound, "Cannot resolve run script for unit "+s.Unit, err)
	case errors.As(err, &cfgErr):
		return exitError(foundry.ExitInvalidArgument, "Invalid submission for unit "+s.Unit, err)
	default:
		return exitError(ExitInternal, "Failed to expand unit "+s.Unit, err)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func openEvents(path string, stdout io.Writer, runID, project string) (output.Writer, func(), error) {
	if path == "-" {
		w := output.NewJSONLWriter(stdout, runID, project)
		return w, func() { _ = w.Close() }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	w := output.NewJSONLWriter(f, runID, project)
	return w, func() {
		_ = w.Close()
		_ = f.Close()
	}, nil
}

func writeEventError(ctx context.Context, w output.Writer, code string, err error) {
	_ = w.WriteError(ctx, &output.ErrorRecord{Code: code, Message: err.Error()})
}

func historyStoreConfig(cfg config.HistoryConfig) (history.Config, error) {
	hc := history.Config{Path: cfg.Path, URL: cfg.URL, AuthToken: cfg.AuthToken}
	if hc.Path == "" && hc.URL == "" {
		p, err := history.DefaultPath()
		if err != nil {
			return hc, err
		}
		hc.Path = p
	}
	return hc, nil
}

func recordHistory(ctx context.Context, cfg config.HistoryConfig, project string, res *engine.Result) error {
	hc, err := historyStoreConfig(cfg)
	if err != nil {
		return err
	}
	db, err := history.Open(ctx, hc)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := history.Migrate(ctx, db); err != nil {
		return err
	}
	return history.RecordRun(ctx, db, history.NewRun(project, res), res.Outcomes)
}

func newPublishProvider(ctx context.Context, cfg config.PublishConfig) (provider.Provider, error) {
	switch cfg.Provider {
	case string(provider.ProviderFile):
		return file.New(file.Config{BaseDir: cfg.BaseDir})
	case string(provider.ProviderS3), "":
		return s3.New(ctx, s3.Config{
			Bucket:         cfg.Bucket,
			Region:         cfg.Region,
			Endpoint:       cfg.Endpoint,
			Profile:        cfg.Profile,
			ForcePathStyle: cfg.ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported publish provider %q", cfg.Provider)
	}
}

func publishResults(ctx context.Context, cfg config.PublishConfig, runID string, res *engine.Result, events output.Writer, logger *zap.Logger) error {
	prov, err := newPublishProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = prov.Close() }()

	started := time.Now()
	pubs, err := publish.New(prov, publish.Options{
		Prefix:       cfg.Prefix,
		SkipExisting: cfg.SkipExisting,
		Logger:       logger,
		OnPublished: func(p publish.Published) {
			if events == nil {
				return
			}
			_ = events.WritePublish(ctx, &output.PublishRecord{
				Provider: cfg.Provider,
				Bucket:   cfg.Bucket,
				Key:      p.Key,
				Source:   p.Source,
				Size:     p.Size,
				Skipped:  p.Skipped,
			})
		},
	}).Publish(ctx, runID, res)

	logger.Info("Published results",
		zap.Int("artifacts", len(pubs)),
		zap.Duration("elapsed", time.Since(started)),
		zap.Error(err))
	return err
}
