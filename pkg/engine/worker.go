package engine

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OutcomeSink observes outcomes as they are recorded. It is called from
// worker goroutines, outside the batch lock, and must be safe for
// concurrent use.
type OutcomeSink interface {
	OutcomeRecorded(o Outcome)
}

type worker struct {
	id      int
	batch   *Batch
	runner  Runner
	sink    OutcomeSink
	logger  *zap.Logger
	failLog *rate.Sometimes
	now     func() time.Time
}

// run claims and executes jobs until the batch says stop. A claimed job is
// always run to completion and recorded.
func (w *worker) run() error {
	for {
		job := w.batch.claim()
		if job == nil {
			return nil
		}

		start := w.now()
		code, setupErr := w.runner.Run(job)
		if setupErr != nil {
			code = ExitCodeUnset
		}
		job.ExitCode = code

		runPath := job.RunPath
		if runPath == "" {
			runPath = job.RunDir()
		}
		o := Outcome{
			Seq:         job.Seq,
			Name:        job.Name,
			RunPath:     runPath,
			ExitCode:    code,
			Disposition: job.Disposition,
			Duration:    w.now().Sub(start),
			Worker:      w.id,
		}
		w.batch.record(o)
		if w.sink != nil {
			w.sink.OutcomeRecorded(o)
		}

		if setupErr != nil {
			w.logger.Error("Cannot set up job, stopping batch",
				zap.Int("worker", w.id),
				zap.String("run_dir", runPath),
				zap.Error(setupErr))
			w.batch.markSystemFailure()
			continue
		}

		if !o.Passed() {
			w.failLog.Do(func() {
				w.logger.Warn("Job failed",
					zap.Int("worker", w.id),
					zap.String("job", job.Name),
					zap.Int("exit_code", code),
					zap.String("command", job.CommandLine),
					zap.String("run_dir", runPath))
			})
			continue
		}

		w.logger.Debug("Job passed",
			zap.Int("worker", w.id),
			zap.String("job", job.Name),
			zap.Duration("duration", o.Duration))

		if err := dispose(o); err != nil {
			w.logger.Error("Cannot dispose of passing run directory, stopping batch",
				zap.Int("worker", w.id),
				zap.Error(err))
			w.batch.markSystemFailure()
		}
	}
}
