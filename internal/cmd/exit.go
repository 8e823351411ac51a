package cmd

import (
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/verifarm/pkg/engine"
	"github.com/3leaps/verifarm/pkg/submission"
)

// Exit codes without a foundry category.
const (
	ExitOK            = 0
	ExitInternal      = 2
	ExitNothingQueued = 3
)

var errSystemFailure = errors.New("system failure detected")

// exitCodeError carries the process exit code for a failed command.
type exitCodeError struct {
	code    int
	message string
	err     error
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *exitCodeError) Unwrap() error {
	return e.err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	if err == nil {
		err = errors.New(message)
	}
	return &exitCodeError{code: code, message: message, err: err}
}

// ExitCodeFor maps a command error to a process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}

	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}

	var cfgErr *submission.ConfigError
	var pathErr *engine.PathResolutionError
	var reportErr *engine.ReportError
	switch {
	case errors.Is(err, engine.ErrNothingQueued):
		return ExitNothingQueued
	case errors.As(err, &pathErr):
		return foundry.ExitFileNotFound
	case errors.As(err, &cfgErr), errors.Is(err, submission.ErrValidationFailed):
		return foundry.ExitInvalidArgument
	case errors.As(err, &reportErr):
		return foundry.ExitFileWriteError
	default:
		return ExitInternal
	}
}
