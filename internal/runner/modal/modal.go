// Package modal runs the pipeline inside a Modal sandbox.
package modal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modal-labs/libmodal/modal-go"

	"github.com/spachava753/repowatch/internal/models"
	"github.com/spachava753/repowatch/internal/runner"
	"github.com/spachava753/repowatch/internal/util"
)

const (
	defaultAppName   = "repowatch"
	defaultCPUs      = 1
	defaultMemoryMiB = 2048
	// maxSandboxLifetime is Modal's upper bound for a sandbox.
	maxSandboxLifetime = 24 * time.Hour
	terminateTimeout   = time.Minute
)

// Config holds the Modal runner configuration.
type Config struct {
	Image   string
	AppName string
	Regions []string
	CPUs    int
	Memory  string
	Verbose bool
}

// ConfigFromSettings extracts the Modal runner configuration.
func ConfigFromSettings(s models.PipelineSettings) Config {
	return Config{
		Image:   s.Image,
		AppName: s.Modal.AppName,
		Regions: s.Modal.Regions,
		CPUs:    s.Modal.CPUs,
		Memory:  s.Modal.Memory,
		Verbose: s.Modal.Verbose,
	}
}

// Runner executes the pipeline as a process in a fresh sandbox per run.
type Runner struct {
	client *modal.Client
	config Config
}

// New creates a Modal runner. Credentials come from the Modal profile or the
// MODAL_TOKEN_ID / MODAL_TOKEN_SECRET environment variables.
func New(config Config) (*Runner, error) {
	if config.Image == "" {
		return nil, errors.New("modal runner requires an image")
	}
	if _, err := util.ParseMemory(config.Memory); err != nil {
		return nil, fmt.Errorf("parsing modal memory: %w", err)
	}

	slog.Debug("initializing modal client")
	client, err := modal.NewClient()
	if err != nil {
		return nil, fmt.Errorf("creating modal client: %w", err)
	}
	return &Runner{client: client, config: config}, nil
}

// Name returns the runner name.
func (r *Runner) Name() string {
	return string(models.RunnerModal)
}

// SandboxParams builds the sandbox creation parameters for a run.
func SandboxParams(config Config, inv models.PipelineInvocation, timeout time.Duration) (*modal.SandboxCreateParams, error) {
	cpus := config.CPUs
	if cpus <= 0 {
		cpus = defaultCPUs
	}
	memoryMiB, err := util.ParseMemory(config.Memory)
	if err != nil {
		return nil, fmt.Errorf("parsing modal memory: %w", err)
	}
	if memoryMiB <= 0 {
		memoryMiB = defaultMemoryMiB
	}

	lifetime := maxSandboxLifetime
	if timeout > 0 && timeout < lifetime {
		// leave room for sandbox startup
		lifetime = timeout + time.Minute
		if lifetime > maxSandboxLifetime {
			lifetime = maxSandboxLifetime
		}
	}

	return &modal.SandboxCreateParams{
		CPU:       float64(cpus),
		MemoryMiB: memoryMiB,
		Env:       inv.Env(),
		Timeout:   lifetime,
		Verbose:   config.Verbose,
		Regions:   config.Regions,
	}, nil
}

// Run creates a sandbox from the configured image, executes the pipeline in
// it and terminates the sandbox afterwards.
func (r *Runner) Run(ctx context.Context, inv models.PipelineInvocation, opts runner.RunOptions) (int, error) {
	if len(opts.Command) == 0 {
		return -1, errors.New("pipeline command is empty")
	}

	ctx, cancel := runner.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	code, err := r.run(ctx, inv, opts)
	if err != nil && ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return -1, fmt.Errorf("%w after %s", runner.ErrTimedOut, opts.Timeout)
		}
		return -1, fmt.Errorf("pipeline interrupted: %w", ctx.Err())
	}
	return code, err
}

func (r *Runner) run(ctx context.Context, inv models.PipelineInvocation, opts runner.RunOptions) (int, error) {
	appName := r.config.AppName
	if appName == "" {
		appName = defaultAppName
	}

	app, err := r.client.Apps.FromName(ctx, appName, &modal.AppFromNameParams{
		CreateIfMissing: true,
	})
	if err != nil {
		return -1, fmt.Errorf("looking up modal app: %w", err)
	}

	image := r.client.Images.FromRegistry(r.config.Image, nil)

	params, err := SandboxParams(r.config, inv, opts.Timeout)
	if err != nil {
		return -1, err
	}

	slog.Debug("creating modal sandbox",
		"app", appName,
		"run_id", inv.RunID,
		"cpus", params.CPU,
		"memory_mib", params.MemoryMiB,
		"regions", params.Regions)

	sandbox, err := r.client.Sandboxes.Create(ctx, app, image, params)
	if err != nil {
		return -1, fmt.Errorf("creating modal sandbox: %w", err)
	}
	defer r.terminate(sandbox)

	execParams := &modal.SandboxExecParams{
		Env:     inv.Env(),
		Workdir: opts.WorkDir,
	}
	if opts.Timeout > 0 {
		execParams.Timeout = opts.Timeout
	}

	slog.Debug("executing pipeline in modal sandbox", "sandbox_id", sandbox.SandboxID, "command", opts.Command)

	process, err := sandbox.Exec(ctx, opts.Command, execParams)
	if err != nil {
		return -1, fmt.Errorf("executing pipeline: %w", err)
	}

	stdout, stderr := opts.Writers()
	var wg sync.WaitGroup
	wg.Go(func() { io.Copy(stdout, process.Stdout) })
	wg.Go(func() { io.Copy(stderr, process.Stderr) })
	wg.Wait()

	exitCode, err := process.Wait(ctx)
	if err != nil {
		return -1, fmt.Errorf("waiting for pipeline: %w", err)
	}

	if exitCode != 0 {
		slog.Debug("pipeline exited with non-zero code", "sandbox_id", sandbox.SandboxID, "exit_code", exitCode)
	}
	return exitCode, nil
}

// terminate stops the sandbox even when the run context is already done.
func (r *Runner) terminate(sandbox *modal.Sandbox) {
	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()

	if err := sandbox.Terminate(ctx); err != nil &&
		!strings.Contains(err.Error(), "already terminated") &&
		!strings.Contains(err.Error(), "not found") {
		slog.Warn("failed to terminate modal sandbox", "sandbox_id", sandbox.SandboxID, "error", err)
	}
}
