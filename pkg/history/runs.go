package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/verifarm/pkg/engine"
)

// RunStatus is how a recorded run ended.
type RunStatus string

const (
	RunStatusComplete      RunStatus = "complete"
	RunStatusInterrupted   RunStatus = "interrupted"
	RunStatusFailThreshold RunStatus = "fail_threshold"
	RunStatusSystemFailure RunStatus = "system_failure"
)

// timeFormat is fixed-width so that started_at sorts lexically. Drivers may
// hand the value back with trailing zeros trimmed, so reads use
// time.RFC3339Nano, which accepts any fractional width.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned when a run id is not in the store.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded batch.
type Run struct {
	RunID      string
	Project    string
	ProjectDir string
	StartedAt  time.Time
	FinishedAt time.Time
	Workers    int
	Total      int
	Passed     int
	Failed     int
	Pending    int
	MaxFails   int
	Status     RunStatus
	ReportPath string
}

// OutcomeRow is one recorded job.
type OutcomeRow struct {
	RunID       string
	RunPath     string
	Job         string
	Seq         int
	ExitCode    int
	Passed      bool
	Disposition string
	Artifact    string
	Worker      int
	Duration    time.Duration
}

// StatusFor derives the run status from the final snapshot.
func StatusFor(s engine.Snapshot) RunStatus {
	switch {
	case s.SystemFailure:
		return RunStatusSystemFailure
	case s.Reason == engine.ReasonFailThreshold:
		return RunStatusFailThreshold
	case s.Reason == engine.ReasonInterrupt:
		return RunStatusInterrupted
	default:
		return RunStatusComplete
	}
}

// NewRun builds a Run from a coordinator result.
func NewRun(project string, res *engine.Result) Run {
	return Run{
		RunID:      res.RunID,
		Project:    project,
		ProjectDir: res.ProjectDir,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Workers:    res.Workers,
		Total:      res.Snapshot.Total,
		Passed:     res.Snapshot.Passed,
		Failed:     res.Snapshot.Failed,
		Pending:    res.Snapshot.Pending,
		MaxFails:   res.Snapshot.MaxFails,
		Status:     StatusFor(res.Snapshot),
		ReportPath: res.ReportPath,
	}
}

// RecordRun stores a run and its outcomes in a single transaction.
func RecordRun(ctx context.Context, db *sql.DB, run Run, outcomes []engine.Outcome) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}
	if run.RunID == "" {
		return fmt.Errorf("run id is required")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, project, project_dir, started_at, finished_at,
			workers, total, passed, failed, pending, max_fails, status, report_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Project, run.ProjectDir,
		run.StartedAt.UTC().Format(timeFormat),
		run.FinishedAt.UTC().Format(timeFormat),
		run.Workers, run.Total, run.Passed, run.Failed, run.Pending, run.MaxFails,
		string(run.Status), nullString(run.ReportPath),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outcomes (
			run_id, run_path, job, seq, exit_code, passed, disposition,
			artifact, worker, duration_ms, recorded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare outcome insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, o := range outcomes {
		passed := 0
		if o.Passed() {
			passed = 1
		}
		if _, err := stmt.ExecContext(ctx,
			run.RunID, o.RunPath, o.Name, o.Seq, o.ExitCode, passed,
			o.Disposition.String(), nullString(engine.ArtifactPath(o)),
			o.Worker, o.Duration.Milliseconds(), i,
		); err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.RunPath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

const runColumns = `run_id, project, project_dir, started_at, finished_at,
	workers, total, passed, failed, pending, max_fails, status, report_path`

// ListRuns returns the most recent runs, newest first. limit <= 0 returns all.
func ListRuns(ctx context.Context, db *sql.DB, project string, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns a single run or ErrRunNotFound.
func GetRun(ctx context.Context, db *sql.DB, runID string) (*Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListOutcomes returns a run's outcomes in completion order. failedOnly
// restricts the result to non-zero exit codes.
func ListOutcomes(ctx context.Context, db *sql.DB, runID string, failedOnly bool) ([]OutcomeRow, error) {
	query := `SELECT run_id, run_path, job, seq, exit_code, passed, disposition,
		artifact, worker, duration_ms
		FROM outcomes WHERE run_id = ?`
	if failedOnly {
		query += ` AND passed = 0`
	}
	query += ` ORDER BY recorded`

	rows, err := db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OutcomeRow
	for rows.Next() {
		var (
			o        OutcomeRow
			passed   int
			artifact sql.NullString
			ms       int64
		)
		if err := rows.Scan(&o.RunID, &o.RunPath, &o.Job, &o.Seq, &o.ExitCode, &passed,
			&o.Disposition, &artifact, &o.Worker, &ms); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Passed = passed != 0
		o.Artifact = artifact.String
		o.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (Run, error) {
	var (
		r                 Run
		started, finished string
		status            string
		report            sql.NullString
	)
	if err := s.Scan(&r.RunID, &r.Project, &r.ProjectDir, &started, &finished,
		&r.Workers, &r.Total, &r.Passed, &r.Failed, &r.Pending, &r.MaxFails,
		&status, &report); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan run: %w", err)
	}

	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return r, fmt.Errorf("parse started_at: %w", err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return r, fmt.Errorf("parse finished_at: %w", err)
	}
	r.Status = RunStatus(status)
	r.ReportPath = report.String
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
