package types

import (
	"fmt"

	"github.com/juju/errors"
)

var (
	_ error = &FatalError{}
	_ error = &ProcessError{}
)

// FatalError marks a failure that must never be retried, such as a request for more
// nodes than the job owns or a task key missing from the registry.
// A node failing with a FatalError aborts the job on the first occurrence.
func NewFatalError(otherErr error) error {
	return &FatalError{baseError: newBaseErr(otherErr)}
}

func NewFatalErrorf(format string, args ...interface{}) error {
	return NewFatalError(errors.Errorf(format, args...))
}

// NewProcessError reports a launched subprocess that exited non-zero or left an error file behind.
func NewProcessError(cmd string, exitCode int, logPath string, otherErr error) error {
	if otherErr == nil {
		otherErr = fmt.Errorf("command `%s` failed with exit code %d", cmd, exitCode)
	}
	return &ProcessError{baseError: newBaseErr(otherErr), Cmd: cmd, ExitCode: exitCode, Log: logPath}
}

func IsFatal(err error) bool {
	_, ok := errors.Cause(err).(*FatalError)
	if ok {
		return true
	}
	var fe *FatalError
	return errors.As(err, &fe)
}

func newBaseErr(otherErr error) *baseError {
	return &baseError{unwrapErr(otherErr)}
}

func unwrapErr(err error) error {
	if err == nil {
		return nil
	}
	if ue, ok := err.(wrappedErr); ok {
		return unwrapErr(ue.UnwrapLocal())
	}
	return err
}

type wrappedErr interface {
	UnwrapLocal() error
}

type baseError struct {
	BaseErr error
}

func (e *baseError) Error() string {
	return e.BaseErr.Error()
}

func (e *baseError) UnwrapLocal() error {
	return e.BaseErr
}

type FatalError struct {
	*baseError
}

type ProcessError struct {
	*baseError
	Cmd      string
	ExitCode int
	Log      string
}
