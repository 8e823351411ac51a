package engine

import (
	"errors"
	"fmt"
)

// ErrNothingQueued is returned by Coordinator.Run when expansion produced
// no jobs. No worker is started.
var ErrNothingQueued = errors.New("nothing to do: no jobs queued")

// PathResolutionError reports a run script that does not resolve to an
// existing absolute path. No job from the submission is queued.
type PathResolutionError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *PathResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve run script %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PathResolutionError) Unwrap() error {
	return e.Err
}

// DispositionError reports a failed archive or delete of a passing run
// directory. It is escalated to a batch-wide system failure.
type DispositionError struct {
	Op      string
	RunPath string
	Err     error
}

// Error implements the error interface.
func (e *DispositionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.RunPath, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DispositionError) Unwrap() error {
	return e.Err
}
