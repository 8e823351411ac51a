package output

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/verifarm/pkg/engine"
)

// NewPlanRecord converts an expansion plan.
func NewPlanRecord(unit string, p *engine.Plan) *PlanRecord {
	return &PlanRecord{
		Unit:        unit,
		UnitDir:     p.UnitDir,
		RunScript:   p.RunScript,
		Files:       len(p.Files),
		RunCount:    p.RunCount,
		Jobs:        p.Jobs,
		Disposition: p.Disposition.String(),
		Threshold:   p.Threshold,
		Argv:        p.Argv,
	}
}

// NewOutcomeRecord converts a recorded outcome.
func NewOutcomeRecord(o engine.Outcome) *OutcomeRecord {
	status := StatusFail
	if o.Passed() {
		status = StatusPass
	}
	rec := &OutcomeRecord{
		Job:         o.Name,
		Seq:         o.Seq,
		Status:      status,
		ExitCode:    o.ExitCode,
		RunPath:     o.RunPath,
		Disposition: o.Disposition.String(),
		Worker:      o.Worker,
		Duration:    o.Duration,
	}
	if artifact := engine.ArtifactPath(o); artifact != o.RunPath {
		rec.Artifact = artifact
	}
	return rec
}

// NewProgressRecord converts a batch snapshot.
func NewProgressRecord(s engine.Snapshot) *ProgressRecord {
	return &ProgressRecord{
		Total:             s.Total,
		Done:              s.Done,
		Passed:            s.Passed,
		Failed:            s.Failed,
		Pending:           s.Pending,
		Percent:           s.Percent(),
		ShutdownRequested: s.ShutdownRequested,
		Reason:            string(s.Reason),
	}
}

// NewSummaryRecord converts a finished run.
func NewSummaryRecord(res *engine.Result) *SummaryRecord {
	elapsed := res.Elapsed()
	return &SummaryRecord{
		Workers:       res.Workers,
		Total:         res.Snapshot.Total,
		Passed:        res.Snapshot.Passed,
		Failed:        res.Snapshot.Failed,
		Pending:       res.Snapshot.Pending,
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
		Reason:        string(res.Snapshot.Reason),
		SystemFailure: res.Snapshot.SystemFailure,
		ReportPath:    res.ReportPath,
	}
}

// EventSink streams engine outcomes and progress to a Writer. Write
// failures are logged once and then ignored so that the event stream can
// never stop a batch.
type EventSink struct {
	w      Writer
	logger *zap.Logger

	failed chan struct{}
}

// NewEventSink wraps w.
func NewEventSink(w Writer, logger *zap.Logger) *EventSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventSink{w: w, logger: logger, failed: make(chan struct{}, 1)}
}

// OutcomeRecorded implements engine.OutcomeSink.
func (s *EventSink) OutcomeRecorded(o engine.Outcome) {
	s.check(s.w.WriteOutcome(context.Background(), NewOutcomeRecord(o)))
}

// Progress is suitable for engine.Config.Progress.
func (s *EventSink) Progress(snap engine.Snapshot) {
	s.check(s.w.WriteProgress(context.Background(), NewProgressRecord(snap)))
}

func (s *EventSink) check(err error) {
	if err == nil {
		return
	}
	select {
	case s.failed <- struct{}{}:
		s.logger.Warn("Event stream write failed, further errors suppressed", zap.Error(err))
	default:
	}
}

var _ engine.OutcomeSink = (*EventSink)(nil)
