// Package docker runs the pipeline in a throwaway container via the docker CLI.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/spachava753/repowatch/internal/models"
	"github.com/spachava753/repowatch/internal/runner"
)

const (
	// cleanupTimeout bounds the forced container removal after an interrupted run.
	cleanupTimeout = 30 * time.Second
	waitDelay      = 10 * time.Second
)

// Runner executes the pipeline with `docker run --rm`.
type Runner struct {
	image  string
	binary string
}

// New creates a docker runner for the given image.
func New(image string) *Runner {
	return &Runner{image: image, binary: "docker"}
}

// WithBinary overrides the docker CLI path.
func (r *Runner) WithBinary(path string) *Runner {
	r.binary = path
	return r
}

// Name returns the runner name.
func (r *Runner) Name() string {
	return string(models.RunnerDocker)
}

// ContainerName returns the container name used for a run.
func ContainerName(inv models.PipelineInvocation) string {
	return "repowatch-" + inv.RunID
}

// Args builds the docker CLI arguments for a run.
func (r *Runner) Args(inv models.PipelineInvocation, opts runner.RunOptions) []string {
	args := []string{"run", "--rm", "--name", ContainerName(inv)}

	for _, kv := range inv.EnvList() {
		args = append(args, "-e", kv)
	}

	if inv.BuildRoot != "" {
		args = append(args, "-v", fmt.Sprintf("%s:%s", inv.BuildRoot, inv.BuildRoot))
	}

	if opts.WorkDir != "" {
		args = append(args, "-v", fmt.Sprintf("%s:%s", opts.WorkDir, opts.WorkDir), "-w", opts.WorkDir)
	}

	args = append(args, r.image)
	return append(args, opts.Command...)
}

// Run executes the pipeline in a fresh container and returns its exit code.
func (r *Runner) Run(ctx context.Context, inv models.PipelineInvocation, opts runner.RunOptions) (int, error) {
	if len(opts.Command) == 0 {
		return -1, errors.New("pipeline command is empty")
	}

	ctx, cancel := runner.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	args := r.Args(inv, opts)
	slog.Debug("starting docker pipeline", "run_id", inv.RunID, "image", r.image, "container", ContainerName(inv))

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Stdout, cmd.Stderr = opts.Writers()
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			// killing the CLI leaves the container running
			r.remove(ContainerName(inv))
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return -1, fmt.Errorf("%w after %s", runner.ErrTimedOut, opts.Timeout)
			}
			return -1, fmt.Errorf("pipeline interrupted: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("executing docker: %w", err)
	}

	return 0, nil
}

// remove force-removes the container, ignoring one that is already gone.
func (r *Runner) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary, "rm", "-f", name)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil && !strings.Contains(stderr.String(), "No such container") {
		slog.Warn("failed to remove pipeline container", "container", name, "error", err, "stderr", stderr.String())
	}
}
