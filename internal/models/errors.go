package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType identifies the category of error that occurred.
type ErrorType string

const (
	// Detection phase
	ErrDetectionFailed ErrorType = "detection_failed"

	// Trigger phase
	ErrLockTimeout             ErrorType = "lock_timeout"
	ErrPipelineExecutionFailed ErrorType = "pipeline_execution_failed"
	ErrPipelineTimeout         ErrorType = "pipeline_timeout"

	// Persistence
	ErrStateCorrupted   ErrorType = "state_corrupted"
	ErrStatePersistence ErrorType = "state_persistence_failed"

	// Catch-all
	ErrInternalError ErrorType = "internal_error"
)

// ErrNotFound is returned by the detector when the repository has no
// release, or the branch has no commits.
var ErrNotFound = errors.New("not found")

// DetectionError reports a failed upstream query. The caller treats it as
// "no answer this cycle", never as "nothing changed".
type DetectionError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *DetectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("detection failed for %s (HTTP %d): %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("detection failed for %s: %v", e.Endpoint, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// Type returns the error category.
func (e *DetectionError) Type() ErrorType { return ErrDetectionFailed }

// LockTimeoutError reports that the shared pipeline lock was not acquired in time.
type LockTimeoutError struct {
	Owner  string
	Holder string
	// HeldFor is how long Holder had held the lock when the wait gave up.
	HeldFor time.Duration
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("%s timed out after %s waiting for pipeline lock (held by %s)", e.Owner, e.Timeout, e.Holder)
	}
	return fmt.Sprintf("%s timed out after %s waiting for pipeline lock", e.Owner, e.Timeout)
}

// Type returns the error category.
func (e *LockTimeoutError) Type() ErrorType { return ErrLockTimeout }

// PipelineExecutionError reports a pipeline that exited nonzero, timed out
// or could not be started.
type PipelineExecutionError struct {
	RunID    string
	ExitCode int
	TimedOut bool
	Err      error
}

func (e *PipelineExecutionError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("pipeline run %s timed out", e.RunID)
	case e.Err != nil:
		return fmt.Sprintf("pipeline run %s failed: %v", e.RunID, e.Err)
	default:
		return fmt.Sprintf("pipeline run %s exited with code %d", e.RunID, e.ExitCode)
	}
}

func (e *PipelineExecutionError) Unwrap() error { return e.Err }

// Type returns the error category.
func (e *PipelineExecutionError) Type() ErrorType {
	if e.TimedOut {
		return ErrPipelineTimeout
	}
	return ErrPipelineExecutionFailed
}

// StateCorruptionError reports an unreadable state file. It is fatal for the
// owning watcher: discarding the state could re-run or skip a change.
type StateCorruptionError struct {
	Path string
	Err  error
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("state file %s is corrupt: %v", e.Path, e.Err)
}

func (e *StateCorruptionError) Unwrap() error { return e.Err }

// Type returns the error category.
func (e *StateCorruptionError) Type() ErrorType { return ErrStateCorrupted }

// TypeOf returns the category of err, or ErrInternalError for untyped errors.
func TypeOf(err error) ErrorType {
	var typed interface{ Type() ErrorType }
	if errors.As(err, &typed) {
		return typed.Type()
	}
	return ErrInternalError
}
