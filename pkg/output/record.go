// Package output provides JSONL event output for batch runs.
//
// Output is structured as typed record envelopes. Each line is a
// self-contained JSON object that can be parsed independently, so a run
// can be followed with tail -f and jq while it is in progress.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: verifarm.<type>.v<version>
const (
	// TypePlan identifies an expanded submission.
	TypePlan = "verifarm.plan.v1"

	// TypeOutcome identifies a single finished job.
	TypeOutcome = "verifarm.outcome.v1"

	// TypeProgress identifies periodic progress records.
	TypeProgress = "verifarm.progress.v1"

	// TypeSummary identifies the final summary record.
	TypeSummary = "verifarm.summary.v1"

	// TypeError identifies error records.
	TypeError = "verifarm.error.v1"

	// TypePublish identifies an uploaded artifact.
	TypePublish = "verifarm.publish.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "verifarm.outcome.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this batch run.
	RunID string `json:"run_id"`

	// Project is the project the batch belongs to, if known.
	Project string `json:"project,omitempty"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// PlanRecord describes one expanded submission.
type PlanRecord struct {
	Unit        string   `json:"unit"`
	UnitDir     string   `json:"unit_dir"`
	RunScript   string   `json:"run_script"`
	Files       int      `json:"files"`
	RunCount    int      `json:"run_count"`
	Jobs        int      `json:"jobs"`
	Disposition string   `json:"disposition"`
	Threshold   int      `json:"fails_threshold"`
	Argv        []string `json:"argv,omitempty"`
}

// OutcomeRecord is the data payload for a finished job.
type OutcomeRecord struct {
	Job         string        `json:"job"`
	Seq         int           `json:"seq"`
	Status      string        `json:"status"`
	ExitCode    int           `json:"exit_code"`
	RunPath     string        `json:"run_path"`
	Artifact    string        `json:"artifact,omitempty"`
	Disposition string        `json:"disposition"`
	Worker      int           `json:"worker"`
	Duration    time.Duration `json:"duration_ns"`
}

// Outcome statuses.
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

// ProgressRecord is the data payload for progress updates.
type ProgressRecord struct {
	Total   int `json:"total"`
	Done    int `json:"done"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	Percent int `json:"percent"`

	ShutdownRequested bool   `json:"shutdown_requested,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// SummaryRecord is the data payload for the final summary.
type SummaryRecord struct {
	Workers int `json:"workers"`
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`

	// Duration is the total batch duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	Reason        string `json:"reason,omitempty"`
	SystemFailure bool   `json:"system_failure"`
	ReportPath    string `json:"report_path,omitempty"`
}

// PublishRecord is the data payload for an uploaded artifact.
type PublishRecord struct {
	Provider string `json:"provider"`
	Bucket   string `json:"bucket,omitempty"`
	Key      string `json:"key"`
	Source   string `json:"source"`
	Size     int64  `json:"size"`
	Skipped  bool   `json:"skipped,omitempty"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Path is the file or directory related to this error, if applicable.
	Path string `json:"path,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeSystemFailure = "SYSTEM_FAILURE"
	ErrCodeReport        = "REPORT"
	ErrCodePublish       = "PUBLISH"
	ErrCodeHistory       = "HISTORY"
	ErrCodeInternal      = "INTERNAL"
)

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
