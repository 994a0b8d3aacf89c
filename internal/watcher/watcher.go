// Package watcher implements the per-repository polling loop: detect, trigger
// on change, persist only what was successfully triggered, sleep, repeat.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spachava753/repowatch/internal/detector"
	"github.com/spachava753/repowatch/internal/metrics"
	"github.com/spachava753/repowatch/internal/models"
)

// Detector observes the upstream release and branch head.
type Detector interface {
	CheckRelease(ctx context.Context, repo models.RepositoryConfig) (models.Observation, error)
	CheckCommit(ctx context.Context, repo models.RepositoryConfig) (models.Observation, error)
}

// Trigger runs the pipeline for a change event.
type Trigger interface {
	Fire(ctx context.Context, repo models.RepositoryConfig, event models.ChangeEvent) models.TriggerResult
}

// StateStore loads and persists watch state.
type StateStore interface {
	Load(path string) (models.WatchState, error)
	Save(path string, st models.WatchState) error
}

// CycleResult describes how one cycle ended.
type CycleResult struct {
	Phase Phase
	// Event is set when a change was detected.
	Event *models.ChangeEvent
	// Trigger is set when the pipeline trigger was invoked.
	Trigger *models.TriggerResult
	// Err is the cause for a skipped or failed cycle, or a persistence
	// failure after a successful trigger.
	Err error
}

// Watcher owns one repository's state and polling loop. It is not safe for
// concurrent use; the supervisor runs each watcher on its own goroutine.
type Watcher struct {
	repo     models.RepositoryConfig
	detector Detector
	trigger  Trigger
	store    StateStore
	logger   *slog.Logger
	console  io.Writer
	metrics  *metrics.Metrics

	state  models.WatchState
	loaded bool
	// dirty is set when the in-memory state is ahead of the state file.
	dirty bool
	phase Phase
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// WithConsole sets where human-facing status lines are echoed.
func WithConsole(console io.Writer) Option {
	return func(w *Watcher) { w.console = console }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

// New creates a watcher for repo.
func New(repo models.RepositoryConfig, d Detector, t Trigger, store StateStore, opts ...Option) *Watcher {
	w := &Watcher{
		repo:     repo,
		detector: d,
		trigger:  t,
		store:    store,
		logger:   slog.Default().With("repository", repo.FullName()),
		console:  io.Discard,
		phase:    PhaseIdle,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Repository returns the watched repository.
func (w *Watcher) Repository() models.RepositoryConfig {
	return w.repo
}

// State returns the in-memory watch state.
func (w *Watcher) State() models.WatchState {
	return w.state
}

// Phase returns the current cycle phase.
func (w *Watcher) Phase() Phase {
	return w.phase
}

// Init loads the persisted state. It is called by Run and by RunCycle on
// first use; a *models.StateCorruptionError must stop the watcher.
func (w *Watcher) Init() error {
	if w.loaded {
		return nil
	}
	st, err := w.store.Load(w.repo.StateFile)
	if err != nil {
		return fmt.Errorf("loading state for %s: %w", w.repo.FullName(), err)
	}
	w.state = st
	w.loaded = true
	w.logger.Debug("loaded state",
		"state_file", w.repo.StateFile,
		"latest_release", st.LatestRelease,
		"latest_commit", st.LatestCommit)
	return nil
}

// Run polls until ctx is done. It returns nil on shutdown and an error only
// when the watcher cannot continue (unreadable state).
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Init(); err != nil {
		w.logger.Error("watcher stopped", "error", err, "error_type", models.TypeOf(err))
		return err
	}

	w.logger.Info("watcher started",
		"branch", w.repo.Branch,
		"interval", w.repo.Interval(),
		"commit_source", w.repo.CommitSource)

	for {
		if ctx.Err() != nil {
			break
		}
		w.RunCycle(ctx)
		if !sleep(ctx, w.repo.Interval()) {
			break
		}
	}

	w.logger.Info("watcher stopped")
	return nil
}

// sleep waits for d, returning false if ctx is done first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (w *Watcher) transition(to Phase) {
	if !CanTransition(w.phase, to) {
		w.logger.Warn("unexpected phase transition", "from", w.phase, "to", to)
	}
	w.logger.Debug("phase", "from", w.phase, "to", to)
	w.phase = to
}

// finish ends the cycle in phase p and returns to Idle.
func (w *Watcher) finish(res CycleResult, outcome string) CycleResult {
	w.transition(res.Phase)
	w.transition(PhaseIdle)
	w.metrics.CycleCompleted(w.repo.FullName(), outcome)
	return res
}

func (w *Watcher) echo(format string, args ...any) {
	fmt.Fprintf(w.console, format+"\n", args...)
}

// RunCycle performs one detect-decide-trigger-persist cycle. It never panics
// and never returns with the watcher outside PhaseIdle.
func (w *Watcher) RunCycle(ctx context.Context) (res CycleResult) {
	name := w.repo.FullName()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during cycle: %v", r)
			w.logger.Error("cycle failed", "error", err, "phase", w.phase)
			w.echo("[ERROR] [%s] Error occurred: %v", name, err)
			w.phase = PhaseIdle
			w.metrics.CycleCompleted(name, metrics.OutcomePanic)
			res = CycleResult{Phase: PhaseSkipped, Err: err}
		}
	}()

	if err := w.Init(); err != nil {
		w.logger.Error("cannot load state", "error", err, "error_type", models.TypeOf(err))
		return CycleResult{Phase: PhaseSkipped, Err: err}
	}

	w.retrySave()

	w.transition(PhaseChecking)

	release, releaseErr := observe(w.detector.CheckRelease(ctx, w.repo))
	var commit models.Observation
	var commitErr error
	if ctx.Err() == nil {
		commit, commitErr = observe(w.detector.CheckCommit(ctx, w.repo))
	}

	if ctx.Err() != nil {
		w.logger.Info("cycle abandoned for shutdown")
		return w.finish(CycleResult{Phase: PhaseSkipped, Err: ctx.Err()}, metrics.OutcomeCancelled)
	}

	if releaseErr != nil || commitErr != nil {
		if releaseErr != nil {
			w.reportDetectionError(models.EventRelease, releaseErr)
		}
		if commitErr != nil {
			w.reportDetectionError(models.EventCommit, commitErr)
		}
		return w.finish(CycleResult{Phase: PhaseSkipped, Err: errors.Join(releaseErr, commitErr)}, metrics.OutcomeDetectFailed)
	}

	releaseDate := detector.FormatTimestamp(release.Timestamp)
	commitDate := detector.FormatTimestamp(commit.Timestamp)

	event := decide(w.state, release, commit)
	if event == nil {
		w.logger.Info("no new release or commit detected",
			"latest_release", w.state.LatestRelease,
			"latest_commit", w.state.LatestCommit)
		w.echo("[%s]: No new release or commit detected.\nLatest release: %s (published: %s)\nLatest commit: %s (date: %s)",
			name, w.state.LatestRelease, releaseDate, w.state.LatestCommit, commitDate)
		return w.finish(CycleResult{Phase: PhaseNoChange}, metrics.OutcomeNoChange)
	}

	w.transition(PhaseChangeDetected)
	switch event.Kind {
	case models.EventRelease:
		event.Timestamp = releaseDate
		w.logger.Info("new release detected", "tag", event.ID, "published", releaseDate)
		w.echo("[INFO] [%s] New release detected: %s (published: %s)", name, event.ID, releaseDate)
	case models.EventCommit:
		event.Timestamp = commitDate
		w.logger.Info("new commit detected", "branch", w.repo.Branch, "sha", event.ID, "date", commitDate)
		w.echo("[INFO] [%s] New commit detected on %s: %s (date: %s)", name, w.repo.Branch, event.ID, commitDate)
	}

	w.transition(PhaseTriggering)
	w.echo("[ACTION] Trigger: %s detected - %s (%s)", event.Kind, event.ID, name)

	result := w.trigger.Fire(ctx, w.repo, *event)
	res = CycleResult{Event: event, Trigger: &result}

	if !result.Success && errors.Is(result.Err, context.Canceled) {
		res.Phase = PhaseTriggerFailed
		res.Err = result.Err
		w.logger.Info("pipeline lock wait abandoned for shutdown", "event_type", event.Kind, "ref", event.ID)
		w.echo("[INFO] [%s] Shutdown requested, %s %s not triggered", name, event.Kind, event.ID)
		return w.finish(res, metrics.OutcomeCancelled)
	}

	if !result.Success {
		res.Phase = PhaseTriggerFailed
		res.Err = result.Err
		w.logger.Error("pipeline trigger failed",
			"event_type", event.Kind,
			"ref", event.ID,
			"run_id", result.RunID,
			"error", result.Err,
			"error_type", models.TypeOf(result.Err))
		w.echo("[ERROR] [%s] Pipeline failed for %s %s: %v", name, event.Kind, event.ID, result.Err)
		return w.finish(res, metrics.OutcomeTriggerFailed)
	}

	w.echo("[OK] [%s] Pipeline succeeded: %s", name, result.Version)

	w.state = advance(w.state, *event, commit)
	w.dirty = true
	if err := w.store.Save(w.repo.StateFile, w.state); err != nil {
		res.Err = fmt.Errorf("saving state: %w", err)
		w.logger.Error("failed to persist state, will retry next cycle",
			"state_file", w.repo.StateFile,
			"error", err,
			"error_type", models.ErrStatePersistence)
	} else {
		w.dirty = false
	}

	res.Phase = PhaseCommitted
	return w.finish(res, metrics.OutcomeTriggered)
}

// retrySave flushes state that a previous cycle could not persist.
func (w *Watcher) retrySave() {
	if !w.dirty {
		return
	}
	if err := w.store.Save(w.repo.StateFile, w.state); err != nil {
		w.logger.Warn("state is still not persisted", "state_file", w.repo.StateFile, "error", err)
		return
	}
	w.dirty = false
	w.logger.Info("persisted pending state", "state_file", w.repo.StateFile)
}

func (w *Watcher) reportDetectionError(kind models.EventKind, err error) {
	attrs := []any{"kind", kind, "error", err, "error_type", models.TypeOf(err)}
	var derr *models.DetectionError
	if errors.As(err, &derr) {
		attrs = append(attrs, "endpoint", derr.Endpoint, "status", derr.StatusCode)
	}
	w.logger.Warn("detection failed, skipping cycle", attrs...)
	w.metrics.DetectionFailed(w.repo.FullName(), kind)
}

// observe maps "not found" to an empty observation.
func observe(obs models.Observation, err error) (models.Observation, error) {
	if errors.Is(err, models.ErrNotFound) {
		return models.Observation{}, nil
	}
	return obs, err
}

// decide picks the change to act on. A new release takes priority over a new
// commit. An empty observation never counts as a change.
func decide(st models.WatchState, release, commit models.Observation) *models.ChangeEvent {
	if release.ID != "" && release.ID != st.LatestRelease {
		return &models.ChangeEvent{Kind: models.EventRelease, ID: release.ID}
	}
	if commit.ID != "" && commit.ID != st.LatestCommit {
		return &models.ChangeEvent{Kind: models.EventCommit, ID: commit.ID}
	}
	return nil
}

// advance applies a successfully triggered event. A release also absorbs the
// commit observed in the same cycle.
func advance(st models.WatchState, event models.ChangeEvent, commit models.Observation) models.WatchState {
	switch event.Kind {
	case models.EventRelease:
		st.LatestRelease = event.ID
		if commit.ID != "" {
			st.LatestCommit = commit.ID
		}
	case models.EventCommit:
		st.LatestCommit = event.ID
	}
	return st
}
