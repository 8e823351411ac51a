// Package engine runs batches of verification jobs on a fixed worker pool.
//
// A batch has three phases. An Expander turns submissions into Jobs on a
// Batch queue. A Coordinator then drains the queue with N workers while
// watching for an interrupt or a breached fail threshold. Once every worker
// has returned, a ReportGenerator writes the pass/fail summary.
//
// All shared batch state lives behind one mutex in Batch. Workers hold it
// only to claim a job or record an outcome; child processes run unlocked.
package engine

import (
	"path/filepath"
	"time"

	"github.com/3leaps/verifarm/pkg/submission"
)

// ExitCodeUnset marks a job that has not finished running.
const ExitCodeUnset = -1

// Log file names written into every run directory.
const (
	StdoutLogName = "runlog.stdout"
	StderrLogName = "runlog.stderr"
)

// Job is one execution of a run script. It belongs to the queue until a
// worker claims it, then to that worker until its outcome is recorded.
type Job struct {
	// UnitDir is the directory that holds this job's run directory.
	UnitDir string

	// Name is the run directory name, a zero-padded sequence id.
	Name string

	// CommandLine is the human-readable command, for logs and plans.
	CommandLine string

	// Argv is the command actually executed; Argv[0] is the run script.
	Argv []string

	// Seq is the sequence id within the job's expansion. It is exported to
	// the child as JOB_ID.
	Seq int

	Disposition submission.Disposition

	// RunPath is the absolute run directory, set when the job executes.
	RunPath string

	// ExitCode is ExitCodeUnset until the child completes.
	ExitCode int
}

// RunDir is the path the job's run directory will have.
func (j *Job) RunDir() string {
	return filepath.Join(j.UnitDir, j.Name)
}

// Outcome is the immutable record of a finished job.
type Outcome struct {
	Seq         int
	Name        string
	RunPath     string
	ExitCode    int
	Disposition submission.Disposition
	Duration    time.Duration
	Worker      int
}

// Passed reports whether the job exited with status zero.
func (o Outcome) Passed() bool {
	return o.ExitCode == 0
}

// ArchivePath is where a compressed run directory lands.
func ArchivePath(runPath string) string {
	return runPath + ".tar.gz"
}
