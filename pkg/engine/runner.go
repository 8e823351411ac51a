package engine

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// JobIDEnv is the environment variable carrying a job's sequence id.
const JobIDEnv = "JOB_ID"

// Runner executes one job and returns its exit status.
//
// A non-nil error means the job could not be set up (run directory or log
// files) and is treated as a system failure. A script that starts and
// fails, or fails to start at all, is reported through the exit code.
type Runner interface {
	Run(job *Job) (int, error)
}

// ProcessRunner runs jobs as child processes.
//
// Each job gets its run directory as working directory, the parent
// environment plus JOB_ID, and stdout/stderr redirected to runlog.stdout
// and runlog.stderr. There is no timeout: a child that never exits holds
// its worker forever.
type ProcessRunner struct {
	// Env is the base environment. Nil means os.Environ().
	Env []string
}

// Run implements Runner.
func (r *ProcessRunner) Run(job *Job) (int, error) {
	runDir := job.RunDir()
	if err := ensureDir(runDir); err != nil {
		return ExitCodeUnset, fmt.Errorf("create run dir: %w", err)
	}
	if abs, err := filepath.Abs(runDir); err == nil {
		runDir = abs
	}
	job.RunPath = runDir

	stdoutFile, err := os.Create(filepath.Join(runDir, StdoutLogName))
	if err != nil {
		return ExitCodeUnset, fmt.Errorf("create stdout log: %w", err)
	}
	defer func() { _ = stdoutFile.Close() }()

	stderrFile, err := os.Create(filepath.Join(runDir, StderrLogName))
	if err != nil {
		return ExitCodeUnset, fmt.Errorf("create stderr log: %w", err)
	}
	defer func() { _ = stderrFile.Close() }()

	if len(job.Argv) == 0 {
		_, _ = fmt.Fprintln(stderrFile, "verifarm: empty command")
		return ExitCodeUnset, nil
	}

	env := r.Env
	if env == nil {
		env = os.Environ()
	}

	// #nosec G204 -- running the configured script is the whole point
	cmd := exec.Command(job.Argv[0], job.Argv[1:]...)
	cmd.Dir = runDir
	cmd.Env = append(append([]string(nil), env...), JobIDEnv+"="+strconv.Itoa(job.Seq))
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code == 0 {
				code = ExitCodeUnset
			}
			return code, nil
		}
		_, _ = fmt.Fprintf(stderrFile, "verifarm: failed to start %s: %v\n", job.Argv[0], err)
		return ExitCodeUnset, nil
	}
	return 0, nil
}

var _ Runner = (*ProcessRunner)(nil)
