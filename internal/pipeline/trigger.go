// Package pipeline turns a detected change into one serialized pipeline run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/spachava753/repowatch/internal/metrics"
	"github.com/spachava753/repowatch/internal/models"
	"github.com/spachava753/repowatch/internal/runner"
)

// Locker is the shared pipeline lock.
type Locker interface {
	Acquire(ctx context.Context, owner string) (func(), error)
}

// Config holds the pipeline execution settings shared by all repositories.
type Config struct {
	Command []string
	WorkDir string
	// Timeout is the pipeline's own time limit; zero means none.
	Timeout time.Duration
	// RunsDir receives per-run artifacts; empty disables them.
	RunsDir string
}

// ConfigFromSettings extracts the trigger configuration from the watcher settings.
func ConfigFromSettings(s models.Settings) Config {
	return Config{
		Command: s.Pipeline.Command,
		WorkDir: s.Pipeline.WorkDir,
		Timeout: s.PipelineTimeout(),
		RunsDir: s.RunsDir,
	}
}

// Trigger executes the pipeline for change events, one run at a time
// process-wide.
type Trigger struct {
	lock    Locker
	runner  runner.Runner
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	// Now and NewRunID are replaceable in tests.
	Now      func() time.Time
	NewRunID func() string
}

// NewTrigger creates a trigger. m may be nil.
func NewTrigger(lock Locker, r runner.Runner, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		lock:     lock,
		runner:   r,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		Now:      time.Now,
		NewRunID: uuid.NewString,
	}
}

// WithLogger returns a copy of t that logs to logger. The copy shares the
// lock, runner and metrics with t.
func (t *Trigger) WithLogger(logger *slog.Logger) *Trigger {
	c := *t
	c.logger = logger
	return &c
}

// Fire runs the pipeline for event under the shared lock. The run is not
// interrupted by cancellation of ctx once the lock is held; only the wait for
// the lock is.
func (t *Trigger) Fire(ctx context.Context, repo models.RepositoryConfig, event models.ChangeEvent) (result models.TriggerResult) {
	inv := NewInvocation(event, repo, t.Now(), t.NewRunID())
	result = models.TriggerResult{RunID: inv.RunID, Version: inv.Version, ExitCode: -1}

	owner := repo.FullName()
	logger := t.logger.With("run_id", inv.RunID, "version", inv.Version)

	waitStart := time.Now()
	release, err := t.lock.Acquire(ctx, owner)
	var lockErr *models.LockTimeoutError
	t.metrics.LockWaited(owner, time.Since(waitStart), errors.As(err, &lockErr))
	if err != nil {
		if lockErr != nil {
			logger.Warn("pipeline lock timeout",
				"holder", lockErr.Holder,
				"held_for", lockErr.HeldFor,
				"timeout", lockErr.Timeout)
		} else {
			logger.Info("abandoned pipeline lock wait", "error", err)
		}
		result.Err = err
		return result
	}
	defer release()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline run panicked", "panic", r)
			result = models.TriggerResult{
				RunID:    inv.RunID,
				Version:  inv.Version,
				ExitCode: -1,
				Duration: time.Since(start),
				Err:      &models.PipelineExecutionError{RunID: inv.RunID, ExitCode: -1, Err: fmt.Errorf("panic: %v", r)},
			}
			t.metrics.PipelineFinished(owner, inv.Kind, false, result.Duration)
		}
	}()

	opts := runner.RunOptions{
		Command: t.command(repo),
		WorkDir: t.cfg.WorkDir,
		Timeout: t.cfg.Timeout,
	}

	closeArtifacts, err := t.openArtifacts(repo, inv, &opts)
	if err != nil {
		logger.Warn("failed to create run artifacts, pipeline output is discarded", "error", err)
	}
	defer closeArtifacts()

	logger.Info("starting pipeline", "runner", t.runner.Name(), "event_type", inv.Kind, "git_ref", inv.GitRef)

	code, err := t.runner.Run(context.WithoutCancel(ctx), inv, opts)
	result.ExitCode = code
	result.Duration = time.Since(start)

	switch {
	case err != nil:
		result.Err = &models.PipelineExecutionError{
			RunID:    inv.RunID,
			ExitCode: code,
			TimedOut: errors.Is(err, runner.ErrTimedOut),
			Err:      err,
		}
	case code != 0:
		result.Err = &models.PipelineExecutionError{RunID: inv.RunID, ExitCode: code}
	default:
		result.Success = true
	}

	if result.Success {
		logger.Info("pipeline succeeded", "duration", result.Duration)
	} else {
		logger.Error("pipeline failed", "exit_code", code, "duration", result.Duration, "error", result.Err)
	}
	t.metrics.PipelineFinished(owner, inv.Kind, result.Success, result.Duration)

	return result
}

func (t *Trigger) command(repo models.RepositoryConfig) []string {
	if len(repo.Pipeline.Command) > 0 {
		return repo.Pipeline.Command
	}
	return t.cfg.Command
}

// RunDir returns the artifact directory for a run.
func RunDir(runsDir string, repo models.RepositoryConfig, runID string) string {
	return filepath.Join(runsDir, fmt.Sprintf("%s__%s", repo.Owner, repo.Repo), runID)
}

// openArtifacts writes invocation.json and points the run's output at
// stdout.txt and stderr.txt in the run directory.
func (t *Trigger) openArtifacts(repo models.RepositoryConfig, inv models.PipelineInvocation, opts *runner.RunOptions) (func(), error) {
	noop := func() {}
	if t.cfg.RunsDir == "" {
		return noop, nil
	}

	dir := RunDir(t.cfg.RunsDir, repo, inv.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return noop, fmt.Errorf("creating run directory: %w", err)
	}

	invJSON, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return noop, fmt.Errorf("encoding invocation: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "invocation.json"), invJSON, 0644); err != nil {
		return noop, fmt.Errorf("writing invocation: %w", err)
	}

	var files []io.Closer
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	stdout, err := os.Create(filepath.Join(dir, "stdout.txt"))
	if err != nil {
		return noop, fmt.Errorf("creating stdout file: %w", err)
	}
	files = append(files, stdout)

	stderr, err := os.Create(filepath.Join(dir, "stderr.txt"))
	if err != nil {
		closeAll()
		return noop, fmt.Errorf("creating stderr file: %w", err)
	}
	files = append(files, stderr)

	opts.Stdout = stdout
	opts.Stderr = stderr
	return closeAll, nil
}
