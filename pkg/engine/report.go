package engine

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/3leaps/verifarm/pkg/submission"
)

// ReportFileName is the summary written into the project directory.
const ReportFileName = "pass_fail_summary.csv"

// ReportHeader is the first row of every summary.
var ReportHeader = []string{"Job", "Path to run directory (or tar file)", "Status"}

// ReportError reports a summary that could not be written.
type ReportError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ReportError) Error() string {
	return fmt.Sprintf("write report %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ReportError) Unwrap() error {
	return e.Err
}

// ReportGenerator renders outcomes as a pass/fail CSV.
type ReportGenerator struct {
	// Dir is the project directory the report is written to.
	Dir string
}

// Generate writes <Dir>/pass_fail_summary.csv and returns its path. Rows
// follow the order outcomes were recorded.
func (r *ReportGenerator) Generate(outcomes []Outcome) (string, error) {
	if r.Dir == "" {
		return "", &ReportError{Err: errors.New("report directory is not set")}
	}
	path := filepath.Join(r.Dir, ReportFileName)

	if err := ensureDir(r.Dir); err != nil {
		return "", &ReportError{Path: path, Err: err}
	}

	f, err := os.Create(path)
	if err != nil {
		return "", &ReportError{Path: path, Err: err}
	}
	if err := r.Write(f, outcomes); err != nil {
		_ = f.Close()
		return "", &ReportError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &ReportError{Path: path, Err: err}
	}
	return path, nil
}

// Write renders the report to w.
func (r *ReportGenerator) Write(w io.Writer, outcomes []Outcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ReportHeader); err != nil {
		return err
	}
	for _, o := range outcomes {
		row, ok := ReportRow(o)
		if !ok {
			continue
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReportRow renders one outcome. ok is false for passing runs whose
// directory was removed; they have nothing left to point at.
func ReportRow(o Outcome) (row []string, ok bool) {
	location := ArtifactPath(o)
	if location == "" {
		return nil, false
	}
	status := "FAIL"
	if o.Passed() {
		status = "PASS"
	}
	return []string{o.Name, "file://" + location, status}, true
}

// ArtifactPath is the file or directory an outcome left behind, or "" if
// nothing remains.
func ArtifactPath(o Outcome) string {
	if !o.Passed() {
		return o.RunPath
	}
	switch o.Disposition {
	case submission.DispositionRemove:
		return ""
	case submission.DispositionCompress:
		return ArchivePath(o.RunPath)
	default:
		return o.RunPath
	}
}
