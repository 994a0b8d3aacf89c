// Package runner defines the pipeline execution backends. The watcher only
// needs to start a pipeline with an invocation and learn its exit code; where
// the pipeline runs is a deployment choice.
package runner

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/spachava753/repowatch/internal/models"
)

// ErrTimedOut is wrapped by Run when the pipeline exceeded its own timeout.
var ErrTimedOut = errors.New("pipeline timed out")

// Runner executes the packaging pipeline for one invocation.
type Runner interface {
	// Name returns the backend name (e.g., "local", "docker", "modal").
	Name() string

	// Run executes the pipeline, streaming its output to the writers in opts.
	// It returns the pipeline's exit code, or an error when the pipeline could
	// not be started, timed out, or was interrupted.
	Run(ctx context.Context, inv models.PipelineInvocation, opts RunOptions) (int, error)
}

// RunOptions configures one pipeline execution.
type RunOptions struct {
	// Command is the pipeline argv. It is never passed through a shell.
	Command []string
	WorkDir string
	Stdout  io.Writer
	Stderr  io.Writer
	// Timeout bounds the run; zero means no limit.
	Timeout time.Duration
}

// WithTimeout derives the run context from opts.Timeout.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// Writers returns the output writers with nil replaced by io.Discard.
func (o RunOptions) Writers() (stdout, stderr io.Writer) {
	stdout, stderr = o.Stdout, o.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return stdout, stderr
}
