package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/3leaps/verifarm/pkg/engine"
	"github.com/3leaps/verifarm/pkg/submission"
)

func TestNewOutcomeRecord(t *testing.T) {
	tests := []struct {
		name         string
		outcome      engine.Outcome
		wantStatus   string
		wantArtifact string
	}{
		{
			name:       "pass kept",
			outcome:    engine.Outcome{Name: "00000", RunPath: "/u/00000"},
			wantStatus: StatusPass,
		},
		{
			name:         "pass compressed",
			outcome:      engine.Outcome{Name: "00001", RunPath: "/u/00001", Disposition: submission.DispositionCompress},
			wantStatus:   StatusPass,
			wantArtifact: "/u/00001.tar.gz",
		},
		{
			name:       "fail keeps directory",
			outcome:    engine.Outcome{Name: "00002", RunPath: "/u/00002", ExitCode: 1, Disposition: submission.DispositionCompress},
			wantStatus: StatusFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewOutcomeRecord(tt.outcome)
			assert.Equal(t, tt.wantStatus, rec.Status)
			assert.Equal(t, tt.wantArtifact, rec.Artifact)
			assert.Equal(t, tt.outcome.Disposition.String(), rec.Disposition)
		})
	}
}

func TestNewProgressRecord(t *testing.T) {
	rec := NewProgressRecord(engine.Snapshot{
		Total: 4, Done: 2, Passed: 1, Failed: 1, Pending: 2,
		ShutdownRequested: true, Reason: engine.ReasonInterrupt,
	})
	assert.Equal(t, 50, rec.Percent)
	assert.Equal(t, "interrupt", rec.Reason)
	assert.True(t, rec.ShutdownRequested)
}

func TestNewSummaryRecord(t *testing.T) {
	start := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	rec := NewSummaryRecord(&engine.Result{
		Workers:    4,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Snapshot:   engine.Snapshot{Total: 3, Passed: 2, Failed: 1, SystemFailure: true},
		ReportPath: "/o/p/pass_fail_summary.csv",
	})
	assert.Equal(t, "1.5s", rec.DurationHuman)
	assert.Equal(t, 4, rec.Workers)
	assert.True(t, rec.SystemFailure)
}

func TestEventSink_StreamsOutcomesAndProgress(t *testing.T) {
	var buf bytes.Buffer
	sink := NewEventSink(NewJSONLWriter(&buf, "run-9", "proj"), nil)

	sink.OutcomeRecorded(engine.Outcome{Name: "00000", RunPath: "/u/00000"})
	sink.Progress(engine.Snapshot{Total: 1, Done: 1, Passed: 1})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, TypeOutcome, decodeLine(t, []byte(lines[0]), nil).Type)
	assert.Equal(t, TypeProgress, decodeLine(t, []byte(lines[1]), nil).Type)
}

func TestEventSink_WriteFailureLoggedOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := NewEventSink(NewJSONLWriter(&failingWriter{err: errors.New("pipe closed")}, "run-9", ""), zap.New(core))

	for range 5 {
		sink.OutcomeRecorded(engine.Outcome{Name: "00000"})
	}
	assert.Equal(t, 1, logs.Len())
}
