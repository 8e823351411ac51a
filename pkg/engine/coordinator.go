package engine

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Monitor cadence. Large batches are polled less often.
const (
	DefaultMonitorInterval    = time.Second
	LargeBatchMonitorInterval = 5 * time.Second
	LargeBatchJobs            = 10000
)

// Config configures a Coordinator.
type Config struct {
	// Workers is the pool size. Zero or negative selects runtime.NumCPU().
	Workers int

	// MonitorInterval overrides the automatic progress cadence when > 0.
	MonitorInterval time.Duration

	// Signals trigger a graceful shutdown. Nil means os.Interrupt.
	Signals []os.Signal

	// Runner executes jobs. Nil means a ProcessRunner.
	Runner Runner

	// Sink, if set, sees every outcome as it is recorded.
	Sink OutcomeSink

	// Progress, if set, is called from the monitor loop on every tick.
	Progress func(Snapshot)

	// ReportDir overrides where the summary CSV is written. Empty means
	// the batch's project directory.
	ReportDir string

	// RunID correlates logs, events and history. Empty generates one.
	RunID string

	Logger *zap.Logger
}

// Result summarizes a completed run.
type Result struct {
	RunID      string
	Workers    int
	StartedAt  time.Time
	FinishedAt time.Time
	Snapshot   Snapshot
	Outcomes   []Outcome
	ProjectDir string
	ReportPath string
}

// Elapsed is the wall time from worker start to report.
func (r *Result) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Coordinator drives a Batch through the worker pool.
type Coordinator struct {
	batch *Batch
	cfg   Config
}

// NewCoordinator creates a coordinator for batch, applying defaults.
func NewCoordinator(batch *Batch, cfg Config) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{os.Interrupt}
	}
	if cfg.Runner == nil {
		cfg.Runner = &ProcessRunner{}
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Coordinator{batch: batch, cfg: cfg}
}

// RunID is the correlation id of this run.
func (c *Coordinator) RunID() string {
	return c.cfg.RunID
}

// Workers is the effective pool size.
func (c *Coordinator) Workers() int {
	return c.cfg.Workers
}

// Run executes every queued job and writes the summary report.
//
// It returns ErrNothingQueued, without starting workers, if the batch is
// empty. Otherwise it always joins every worker before returning; an
// interrupt, a cancelled ctx, or a breached threshold only stops new
// claims. Running jobs finish. A report write failure is returned together
// with the Result.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	total := c.batch.Total()
	if total == 0 {
		return nil, ErrNothingQueued
	}

	logger := c.cfg.Logger.With(zap.String("run_id", c.cfg.RunID))
	interval := monitorInterval(c.cfg.MonitorInterval, total)
	failLog := &rate.Sometimes{First: 10, Interval: 2 * time.Second}

	logger.Info("Starting batch",
		zap.Int("jobs", total),
		zap.Int("workers", c.cfg.Workers),
		zap.Int("max_fails", c.batch.MaxFails()),
		zap.Duration("monitor_interval", interval))

	started := time.Now()

	var group errgroup.Group
	for id := 1; id <= c.cfg.Workers; id++ {
		w := &worker{
			id:      id,
			batch:   c.batch,
			runner:  c.cfg.Runner,
			sink:    c.cfg.Sink,
			logger:  logger,
			failLog: failLog,
			now:     time.Now,
		}
		group.Go(w.run)
	}

	workersDone := make(chan error, 1)
	go func() { workersDone <- group.Wait() }()

	// Installed after the pool is up; the handler only raises the flag.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, c.cfg.Signals...)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctxDone := ctx.Done()
	joined := false
	var joinErr error

	for {
		select {
		case <-ticker.C:
		case sig := <-sigCh:
			if c.batch.RequestShutdown(ReasonInterrupt) {
				logger.Warn("Interrupt received, waiting for running jobs", zap.String("signal", sig.String()))
			}
		case <-ctxDone:
			ctxDone = nil
			if c.batch.RequestShutdown(ReasonInterrupt) {
				logger.Warn("Context cancelled, waiting for running jobs", zap.Error(ctx.Err()))
			}
		case joinErr = <-workersDone:
			joined = true
		}

		snap := c.batch.Snapshot()
		if c.cfg.Progress != nil {
			c.cfg.Progress(snap)
		}
		if exceeded, fails, limit := c.batch.enforceThreshold(); exceeded {
			logger.Warn(fmt.Sprintf("# of fails (%d) exceeds threshold of %d", fails, limit),
				zap.Int("fails", fails),
				zap.Int("threshold", limit))
		}

		if joined || snap.Done == total || c.batch.ShutdownRequested() {
			break
		}
	}

	if !joined {
		joinErr = <-workersDone
	}

	snap := c.batch.Snapshot()
	if c.cfg.Progress != nil {
		c.cfg.Progress(snap)
	}

	res := &Result{
		RunID:      c.cfg.RunID,
		Workers:    c.cfg.Workers,
		StartedAt:  started,
		Snapshot:   snap,
		Outcomes:   c.batch.Outcomes(),
		ProjectDir: c.batch.ProjectDir(),
	}

	reportDir := c.cfg.ReportDir
	if reportDir == "" {
		reportDir = res.ProjectDir
	}
	reportPath, reportErr := (&ReportGenerator{Dir: reportDir}).Generate(res.Outcomes)
	res.ReportPath = reportPath
	res.FinishedAt = time.Now()

	logger.Info("Batch finished",
		zap.Int("passed", snap.Passed),
		zap.Int("failed", snap.Failed),
		zap.Int("pending", snap.Pending),
		zap.String("reason", string(snap.Reason)),
		zap.Bool("system_failure", snap.SystemFailure),
		zap.Duration("elapsed", res.Elapsed()))

	if joinErr != nil {
		return res, fmt.Errorf("worker pool: %w", joinErr)
	}
	if reportErr != nil {
		return res, reportErr
	}
	return res, nil
}

func monitorInterval(override time.Duration, total int) time.Duration {
	if override > 0 {
		return override
	}
	if total >= LargeBatchJobs {
		return LargeBatchMonitorInterval
	}
	return DefaultMonitorInterval
}
