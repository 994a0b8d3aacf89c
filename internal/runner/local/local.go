// Package local runs the pipeline as a child process on the watcher host.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/spachava753/repowatch/internal/models"
	"github.com/spachava753/repowatch/internal/runner"
)

// waitDelay bounds how long Run waits for output pipes after the process is
// killed, so grandchildren holding them cannot wedge the watcher.
const waitDelay = 10 * time.Second

// Runner executes the pipeline command with exec.
type Runner struct{}

// New creates a local runner.
func New() *Runner {
	return &Runner{}
}

// Name returns the runner name.
func (r *Runner) Name() string {
	return string(models.RunnerLocal)
}

// Run starts opts.Command with the invocation exported as environment
// variables on top of the watcher's own environment. A missing opts.WorkDir
// is created first.
func (r *Runner) Run(ctx context.Context, inv models.PipelineInvocation, opts runner.RunOptions) (int, error) {
	if len(opts.Command) == 0 {
		return -1, errors.New("pipeline command is empty")
	}

	if opts.WorkDir != "" {
		if err := os.MkdirAll(opts.WorkDir, 0755); err != nil {
			return -1, fmt.Errorf("creating pipeline work dir: %w", err)
		}
	}

	ctx, cancel := runner.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), inv.EnvList()...)
	cmd.Stdout, cmd.Stderr = opts.Writers()
	cmd.WaitDelay = waitDelay

	slog.Debug("starting local pipeline",
		"run_id", inv.RunID,
		"command", opts.Command,
		"work_dir", opts.WorkDir)

	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return -1, fmt.Errorf("%w after %s", runner.ErrTimedOut, opts.Timeout)
		}
		if ctx.Err() != nil {
			return -1, fmt.Errorf("pipeline interrupted: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("executing pipeline: %w", err)
	}

	return 0, nil
}
