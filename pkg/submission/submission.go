// Package submission describes batches of verification jobs.
//
// A Submission is one declarative request: run a script against every file
// matching a pattern, some number of times, under
// <output_directory>/<project>/<unit>. Submissions come from command-line
// flags or from a submissions file (see Load).
package submission

import (
	"fmt"
	"strings"
)

// UnlimitedFails disables the fail threshold.
const UnlimitedFails = -1

// Disposition is what happens to a passing job's run directory.
type Disposition int

const (
	// DispositionNone leaves the run directory in place.
	DispositionNone Disposition = iota

	// DispositionCompress replaces the run directory with <dir>.tar.gz.
	DispositionCompress

	// DispositionRemove deletes the run directory.
	DispositionRemove
)

// String returns the submissions-file spelling of d.
func (d Disposition) String() string {
	switch d {
	case DispositionCompress:
		return "compress"
	case DispositionRemove:
		return "remove"
	default:
		return "keep"
	}
}

// ParseDisposition accepts compress, remove, keep or none.
// An empty string selects compress.
func ParseDisposition(s string) (Disposition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "compress":
		return DispositionCompress, nil
	case "remove", "clobber":
		return DispositionRemove, nil
	case "keep", "none":
		return DispositionNone, nil
	default:
		return DispositionNone, &ConfigError{Field: "passing_tests", Message: fmt.Sprintf("unknown disposition %q", s)}
	}
}

// DispositionFromFlags maps the compress/clobber flag pair to a Disposition.
// Setting both is a configuration error.
func DispositionFromFlags(compress, remove bool) (Disposition, error) {
	switch {
	case compress && remove:
		return DispositionNone, &ConfigError{
			Field:   "compress_passes/clobber_passes",
			Message: "compressing and removing passing runs are mutually exclusive",
		}
	case compress:
		return DispositionCompress, nil
	case remove:
		return DispositionRemove, nil
	default:
		return DispositionNone, nil
	}
}

// Submission is one job-submission request.
type Submission struct {
	// OutputDirectory is the root under which project directories live.
	OutputDirectory string

	Project string
	Unit    string

	// RunScript is the executable launched once per job.
	RunScript string

	// Files is a glob; each match becomes the script's last argument.
	// Empty (or no matches) runs the script once per repetition with no file.
	Files string

	// Options are extra arguments placed between the script and the file.
	Options string

	// RunCount is the number of repetitions over the file set.
	RunCount int

	Disposition Disposition

	// FailThreshold is the number of failures tolerated before the batch
	// halts. UnlimitedFails disables the check.
	FailThreshold int
}

// New builds a Submission with a run count of one and no fail threshold.
func New(outputDir, project, unit, runScript string) Submission {
	return Submission{
		OutputDirectory: outputDir,
		Project:         project,
		Unit:            unit,
		RunScript:       runScript,
		RunCount:        1,
		FailThreshold:   UnlimitedFails,
	}
}

// Validate checks the submission before any job is created.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.OutputDirectory) == "" {
		return &ConfigError{Field: "output_directory", Message: "output directory is required"}
	}
	if strings.TrimSpace(s.Project) == "" {
		return &ConfigError{Field: "project", Message: "project name is required"}
	}
	if strings.TrimSpace(s.Unit) == "" {
		return &ConfigError{Field: "unit", Message: "unit name is required"}
	}
	if strings.ContainsAny(s.Project, `/\`) {
		return &ConfigError{Field: "project", Message: "project name must not contain path separators"}
	}
	if strings.ContainsAny(s.Unit, `/\`) {
		return &ConfigError{Field: "unit", Message: "unit name must not contain path separators"}
	}
	if strings.TrimSpace(s.RunScript) == "" {
		return &ConfigError{Field: "run_script", Message: "run script is required"}
	}
	if s.RunCount < 1 {
		return &ConfigError{Field: "run_count", Message: fmt.Sprintf("must be >= 1, got %d", s.RunCount)}
	}
	if s.FailThreshold < UnlimitedFails {
		return &ConfigError{Field: "fails_threshold", Message: fmt.Sprintf("must be >= -1, got %d", s.FailThreshold)}
	}
	switch s.Disposition {
	case DispositionNone, DispositionCompress, DispositionRemove:
	default:
		return &ConfigError{Field: "passing_tests", Message: fmt.Sprintf("unknown disposition %d", s.Disposition)}
	}
	return nil
}

// ConfigError reports an invalid or missing submission field.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "submission: " + e.Message
	}
	return "submission: " + e.Field + ": " + e.Message
}
