// Package supervisor wires the configured repositories into watchers that
// share one pipeline lock and runs them for the life of the process.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/spachava753/repowatch/internal/detector"
	"github.com/spachava753/repowatch/internal/lock"
	"github.com/spachava753/repowatch/internal/logging"
	"github.com/spachava753/repowatch/internal/metrics"
	"github.com/spachava753/repowatch/internal/models"
	"github.com/spachava753/repowatch/internal/pipeline"
	"github.com/spachava753/repowatch/internal/runner"
	"github.com/spachava753/repowatch/internal/runner/docker"
	"github.com/spachava753/repowatch/internal/runner/local"
	"github.com/spachava753/repowatch/internal/runner/modal"
	"github.com/spachava753/repowatch/internal/state"
	"github.com/spachava753/repowatch/internal/watcher"
)

// ErrNoRepositories is returned when no repository descriptor was found.
var ErrNoRepositories = errors.New("no repository configurations found")

const shutdownTimeout = 5 * time.Second

// Supervisor owns the shared lock, the pipeline trigger and one watcher per
// configured repository.
type Supervisor struct {
	settings models.Settings
	repos    []models.RepositoryConfig

	runner     runner.Runner
	newDetect  func(models.RepositoryConfig) watcher.Detector
	store      watcher.StateStore
	httpClient detector.Doer
	console    io.Writer
	logOutput  io.Writer
	logLevel   slog.Level
	registry   *prometheus.Registry

	lock     *lock.SharedLock
	trigger  *pipeline.Trigger
	metrics  *metrics.Metrics
	files    *logging.Files
	watchers []*watcher.Watcher
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRunner replaces the runner selected from the settings.
func WithRunner(r runner.Runner) Option {
	return func(s *Supervisor) { s.runner = r }
}

// WithDetectorFactory replaces the per-repository detector construction.
func WithDetectorFactory(f func(models.RepositoryConfig) watcher.Detector) Option {
	return func(s *Supervisor) { s.newDetect = f }
}

// WithHTTPClient replaces the retrying HTTP client used by the API detector.
func WithHTTPClient(c detector.Doer) Option {
	return func(s *Supervisor) { s.httpClient = c }
}

// WithStateStore replaces the file-backed state store.
func WithStateStore(store watcher.StateStore) Option {
	return func(s *Supervisor) { s.store = store }
}

// WithConsole sets where watchers echo status lines (stdout by default).
func WithConsole(w io.Writer) Option {
	return func(s *Supervisor) { s.console = w }
}

// WithLogOutput sets the console side of the per-repository loggers (stderr
// by default).
func WithLogOutput(w io.Writer) Option {
	return func(s *Supervisor) { s.logOutput = w }
}

// WithLogLevel sets the per-repository logger level.
func WithLogLevel(level slog.Level) Option {
	return func(s *Supervisor) { s.logLevel = level }
}

// WithRegistry sets the Prometheus registry the metrics are registered with.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Supervisor) { s.registry = reg }
}

// New builds the supervisor for repos. Zero repositories is an error.
func New(settings models.Settings, repos []models.RepositoryConfig, opts ...Option) (*Supervisor, error) {
	if len(repos) == 0 {
		return nil, ErrNoRepositories
	}

	s := &Supervisor{
		settings:  settings,
		repos:     repos,
		store:     state.NewStore(),
		console:   os.Stdout,
		logOutput: os.Stderr,
		logLevel:  slog.LevelInfo,
		files:     logging.NewFiles(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = metrics.New(s.registry)

	if s.runner == nil {
		r, err := NewRunner(settings.Pipeline)
		if err != nil {
			return nil, fmt.Errorf("creating pipeline runner: %w", err)
		}
		s.runner = r
	}

	if s.newDetect == nil {
		s.newDetect = s.defaultDetectorFactory()
	}

	s.lock = lock.New(settings.LockTimeout())
	s.trigger = pipeline.NewTrigger(s.lock, s.runner, pipeline.ConfigFromSettings(settings), s.metrics, slog.Default())

	for _, repo := range repos {
		logger, err := s.files.RepositoryLogger(s.logOutput, s.logLevel, repo.FullName(), repo.LogFile)
		if err != nil {
			s.files.Close()
			return nil, fmt.Errorf("opening log for %s: %w", repo.FullName(), err)
		}

		s.watchers = append(s.watchers, watcher.New(repo, s.newDetect(repo), s.trigger.WithLogger(logger), s.store,
			watcher.WithLogger(logger),
			watcher.WithConsole(s.console),
			watcher.WithMetrics(s.metrics),
		))
	}

	slog.Debug("supervisor ready",
		"repositories", len(repos),
		"runner", s.runner.Name(),
		"lock_timeout", s.lock.Timeout())

	return s, nil
}

// NewRunner selects the pipeline runner backend.
func NewRunner(ps models.PipelineSettings) (runner.Runner, error) {
	switch ps.Runner {
	case models.RunnerLocal, "":
		return local.New(), nil
	case models.RunnerDocker:
		return docker.New(ps.Image), nil
	case models.RunnerModal:
		return modal.New(modal.ConfigFromSettings(ps))
	default:
		return nil, fmt.Errorf("unsupported runner type: %s", ps.Runner)
	}
}

func (s *Supervisor) defaultDetectorFactory() func(models.RepositoryConfig) watcher.Detector {
	token := ""
	if s.settings.GitHub.TokenEnv != "" {
		token = os.Getenv(s.settings.GitHub.TokenEnv)
	}

	httpClient := s.httpClient
	if httpClient == nil {
		timeout := time.Duration(s.settings.GitHub.TimeoutSec * float64(time.Second))
		httpClient = detector.NewRetryingHTTPClient(timeout, s.settings.GitHub.MaxRetries)
	}

	api := detector.NewClient(detector.ClientConfig{
		BaseURL: s.settings.GitHub.APIURL,
		Token:   token,
	}, httpClient)
	git := detector.NewGitRemote(token)

	return func(repo models.RepositoryConfig) watcher.Detector {
		if repo.CommitSource == models.CommitSourceGit {
			return detector.WithCommitSource(api, git)
		}
		return api
	}
}

// MetricsHandler serves the supervisor's metrics.
func (s *Supervisor) MetricsHandler() http.Handler {
	return metrics.Handler(s.registry)
}

// Run starts every watcher and blocks until all of them return. Watchers stop
// when ctx is cancelled; a watcher that cannot continue stops alone and its
// error is included in the joined result.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.settings.Metrics.ListenAddress != "" {
		stop := s.serveMetrics(ctx)
		defer stop()
	}

	slog.Info("starting watchers", "count", len(s.watchers))

	errs := make([]error, len(s.watchers))
	var wg sync.WaitGroup
	for i, w := range s.watchers {
		wg.Go(func() {
			errs[i] = w.Run(ctx)
		})
	}
	wg.Wait()

	slog.Info("all watchers stopped")
	return errors.Join(errs...)
}

// RunOnce runs exactly one cycle for the named repository ("owner/repo" or
// "owner/repo@branch"). An empty name selects the only configured repository.
func (s *Supervisor) RunOnce(ctx context.Context, name string) (watcher.CycleResult, error) {
	w, err := s.find(name)
	if err != nil {
		return watcher.CycleResult{}, err
	}
	if err := w.Init(); err != nil {
		return watcher.CycleResult{}, err
	}
	return w.RunCycle(ctx), nil
}

func (s *Supervisor) find(name string) (*watcher.Watcher, error) {
	if name == "" {
		if len(s.watchers) == 1 {
			return s.watchers[0], nil
		}
		names := make([]string, 0, len(s.watchers))
		for _, w := range s.watchers {
			names = append(names, w.Repository().FullName())
		}
		return nil, fmt.Errorf("%d repositories configured, choose one of: %s", len(s.watchers), strings.Join(names, ", "))
	}

	var matches []*watcher.Watcher
	for _, w := range s.watchers {
		repo := w.Repository()
		if name == repo.FullName() || name == repo.FullName()+"@"+repo.Branch {
			matches = append(matches, w)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("repository %s is not configured", name)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("repository %s is configured for several branches, use owner/repo@branch", name)
	}
}

// serveMetrics starts the metrics listener and returns a func that shuts it
// down.
func (s *Supervisor) serveMetrics(ctx context.Context) func() {
	path := s.settings.Metrics.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, s.MetricsHandler())
	server := &http.Server{
		Addr:              s.settings.Metrics.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("serving prometheus metrics", "address", server.Addr, "path", path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics listener failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}
}

// Close releases the per-repository log files.
func (s *Supervisor) Close() error {
	return s.files.Close()
}
