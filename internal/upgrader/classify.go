package upgrader

import (
	"github.com/forcetools/orgupgrader/internal/domain"
)

// stepError carries the classification a failed phase assigns to the
// whole attempt: whether the attempt may restart, which terminal
// status applies when it may not, and a screenshot when one was
// captured at the point of failure.
type stepError struct {
	status     domain.Status
	retryable  bool
	screenshot []byte
	err        error
}

func (e *stepError) Error() string {
	if e.err == nil {
		return string(e.status)
	}
	return e.err.Error()
}

func (e *stepError) Unwrap() error { return e.err }

// retryable marks a failure the whole attempt restarts from
func retryable(err error, screenshot []byte) *stepError {
	return &stepError{status: domain.StatusFailed, retryable: true, err: err, screenshot: screenshot}
}

// fatal marks a failure that short-circuits to its terminal status
func fatal(status domain.Status, err error, screenshot []byte) *stepError {
	return &stepError{status: status, err: err, screenshot: screenshot}
}
