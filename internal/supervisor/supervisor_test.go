package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/repowatch/internal/config"
	"github.com/spachava753/repowatch/internal/detector"
	"github.com/spachava753/repowatch/internal/models"
	"github.com/spachava753/repowatch/internal/runner"
	"github.com/spachava753/repowatch/internal/watcher"
)

// fakeGitHub serves releases/latest and commits for every repository, with
// the tag and SHA derived from the repository name.
func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 4 || parts[0] != "repos" {
			http.NotFound(w, r)
			return
		}
		repo := parts[2]
		switch {
		case strings.HasSuffix(r.URL.Path, "/releases/latest"):
			fmt.Fprintf(w, `{"tag_name": "v1.0.0-%s", "published_at": "2024-03-05T14:30:00Z"}`, repo)
		case strings.HasSuffix(r.URL.Path, "/commits"):
			fmt.Fprintf(w, `[{"sha": "sha-%s", "commit": {"committer": {"date": "2024-03-05T09:00:00Z"}}}]`, repo)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

type countingRunner struct {
	mu        sync.Mutex
	calls     []models.PipelineInvocation
	active    atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration
	onRun     func()
}

func (r *countingRunner) Name() string { return "counting" }

func (r *countingRunner) Run(ctx context.Context, inv models.PipelineInvocation, opts runner.RunOptions) (int, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		m := r.maxActive.Load()
		if n <= m || r.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	r.mu.Lock()
	r.calls = append(r.calls, inv)
	r.mu.Unlock()

	time.Sleep(r.delay)
	if r.onRun != nil {
		r.onRun()
	}
	return 0, nil
}

func (r *countingRunner) invocations() []models.PipelineInvocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.PipelineInvocation(nil), r.calls...)
}

func testSettings(t *testing.T, apiURL string) models.Settings {
	settings := config.DefaultSettings()
	dir := t.TempDir()
	settings.StateDir = filepath.Join(dir, "state")
	settings.LogFile = filepath.Join(dir, "log", "repo-watcher.log")
	settings.RunsDir = filepath.Join(dir, "runs")
	settings.GitHub.APIURL = apiURL
	settings.GitHub.TokenEnv = ""
	settings.LockTimeoutSec = 5
	return settings
}

func testRepos(settings models.Settings, names ...string) []models.RepositoryConfig {
	var repos []models.RepositoryConfig
	for _, name := range names {
		repos = append(repos, models.RepositoryConfig{
			Owner:         "acme",
			Repo:          name,
			Branch:        "main",
			CheckInterval: 3600,
			StateFile:     filepath.Join(settings.StateDir, "acme__"+name+".json"),
			LogFile:       settings.LogFile,
			CommitSource:  models.CommitSourceAPI,
			Pipeline:      models.PipelineMetadata{PackageName: name},
		})
	}
	return repos
}

func quietOptions(r runner.Runner) []Option {
	return []Option{
		WithRunner(r),
		WithConsole(io.Discard),
		WithLogOutput(io.Discard),
	}
}

func TestPipelineLinesReachRepositoryLogFile(t *testing.T) {
	api := fakeGitHub(t)
	settings := testSettings(t, api.URL)
	repos := testRepos(settings, "alpha", "beta")
	logDir := t.TempDir()
	for i := range repos {
		repos[i].LogFile = filepath.Join(logDir, repos[i].Repo+".log")
	}

	sup, err := New(settings, repos, quietOptions(&countingRunner{})...)
	require.NoError(t, err)
	defer sup.Close()

	_, err = sup.RunOnce(context.Background(), "acme/beta")
	require.NoError(t, err)

	beta, err := os.ReadFile(filepath.Join(logDir, "beta.log"))
	require.NoError(t, err)
	assert.Contains(t, string(beta), "starting pipeline")
	assert.Contains(t, string(beta), "pipeline succeeded")
	assert.Contains(t, string(beta), "repository=acme/beta")

	alpha, err := os.ReadFile(filepath.Join(logDir, "alpha.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(alpha), "starting pipeline")
}

func TestNewWithoutRepositories(t *testing.T) {
	_, err := New(config.DefaultSettings(), nil)
	assert.ErrorIs(t, err, ErrNoRepositories)
}

func TestNewRunner(t *testing.T) {
	r, err := NewRunner(models.PipelineSettings{Runner: models.RunnerLocal})
	require.NoError(t, err)
	assert.Equal(t, "local", r.Name())

	r, err = NewRunner(models.PipelineSettings{Runner: models.RunnerDocker, Image: "packager:1"})
	require.NoError(t, err)
	assert.Equal(t, "docker", r.Name())

	_, err = NewRunner(models.PipelineSettings{Runner: "kubernetes"})
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	api := fakeGitHub(t)
	settings := testSettings(t, api.URL)
	r := &countingRunner{}

	sup, err := New(settings, testRepos(settings, "alpha", "beta"), quietOptions(r)...)
	require.NoError(t, err)
	defer sup.Close()

	res, err := sup.RunOnce(context.Background(), "acme/beta")
	require.NoError(t, err)
	assert.Equal(t, watcher.PhaseCommitted, res.Phase)

	calls := r.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, "acme/beta", calls[0].Repository)
	assert.Equal(t, models.EventRelease, calls[0].Kind)
	assert.Equal(t, "v1.0.0-beta", calls[0].GitRef)

	data, err := os.ReadFile(filepath.Join(settings.StateDir, "acme__beta.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"latest_release": "v1.0.0-beta", "latest_commit": "sha-beta"}`, string(data))

	res, err = sup.RunOnce(context.Background(), "acme/beta@main")
	require.NoError(t, err)
	assert.Equal(t, watcher.PhaseNoChange, res.Phase)
	assert.Len(t, r.invocations(), 1)

	_, err = sup.RunOnce(context.Background(), "")
	assert.ErrorContains(t, err, "choose one of")

	_, err = sup.RunOnce(context.Background(), "acme/gamma")
	assert.ErrorContains(t, err, "not configured")
}

func TestRunSerializesPipelines(t *testing.T) {
	api := fakeGitHub(t)
	settings := testSettings(t, api.URL)
	names := []string{"a", "b", "c", "d"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	r := &countingRunner{delay: 20 * time.Millisecond}
	r.onRun = func() {
		if int(runs.Add(1)) == len(names) {
			cancel()
		}
	}

	sup, err := New(settings, testRepos(settings, names...), quietOptions(r)...)
	require.NoError(t, err)
	defer sup.Close()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	assert.Len(t, r.invocations(), len(names))
	assert.Equal(t, int32(1), r.maxActive.Load(), "pipelines ran concurrently")
}

func TestRunIsolatesCorruptState(t *testing.T) {
	api := fakeGitHub(t)
	settings := testSettings(t, api.URL)
	repos := testRepos(settings, "broken", "healthy")

	require.NoError(t, os.MkdirAll(settings.StateDir, 0755))
	require.NoError(t, os.WriteFile(repos[0].StateFile, []byte("not json"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &countingRunner{onRun: cancel}

	sup, err := New(settings, repos, quietOptions(r)...)
	require.NoError(t, err)
	defer sup.Close()

	err = sup.Run(ctx)

	var cerr *models.StateCorruptionError
	require.True(t, errors.As(err, &cerr), "expected StateCorruptionError, got %v", err)
	assert.Equal(t, repos[0].StateFile, cerr.Path)

	calls := r.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, "acme/healthy", calls[0].Repository)
}

func TestDetectorFactory(t *testing.T) {
	settings := testSettings(t, "http://127.0.0.1:0")
	repos := testRepos(settings, "api", "git")
	repos[1].CommitSource = models.CommitSourceGit

	sup, err := New(settings, repos, quietOptions(&countingRunner{})...)
	require.NoError(t, err)
	defer sup.Close()

	assert.IsType(t, &detector.Client{}, sup.newDetect(repos[0]))
	assert.IsType(t, &detector.Composite{}, sup.newDetect(repos[1]))
}

func TestMetricsHandler(t *testing.T) {
	api := fakeGitHub(t)
	settings := testSettings(t, api.URL)

	sup, err := New(settings, testRepos(settings, "alpha"), quietOptions(&countingRunner{})...)
	require.NoError(t, err)
	defer sup.Close()

	_, err = sup.RunOnce(context.Background(), "")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	sup.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `repowatch_cycles_total{outcome="triggered",repository="acme/alpha"} 1`)
	assert.Contains(t, rec.Body.String(), "repowatch_pipeline_runs_total")
}

func TestRunFromConfigOnce(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	api := fakeGitHub(t)
	dir := t.TempDir()
	configDir := filepath.Join(dir, "configs")
	require.NoError(t, os.MkdirAll(configDir, 0755))

	marker := filepath.Join(dir, "ran")
	settingsTOML := fmt.Sprintf(`
config_dir = %q
state_dir = %q
log_file = %q
runs_dir = %q

[github]
api_url = %q
token_env = ""

[pipeline]
runner = "local"
command = ["sh", "-c", "echo \"$PACKAGE_VERSION\" > %s"]
work_dir = %q
`, configDir, filepath.Join(dir, "state"), filepath.Join(dir, "repo-watcher.log"), filepath.Join(dir, "runs"), api.URL, marker, dir)

	settingsPath := filepath.Join(dir, "repowatch.toml")
	require.NoError(t, os.WriteFile(settingsPath, []byte(settingsTOML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "tool.json"),
		[]byte(`{"owner": "acme", "repo": "tool", "check_interval": 30}`), 0644))

	var console bytes.Buffer
	err := RunFromConfig(context.Background(), Params{SettingsPath: settingsPath, Once: true},
		WithConsole(&console), WithLogOutput(io.Discard))
	require.NoError(t, err)

	version, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Regexp(t, `^v1\.0\.0-tool-\d{8}\n$`, string(version))
	assert.Contains(t, console.String(), "[ACTION] Trigger: release detected - v1.0.0-tool (acme/tool)")

	logData, err := os.ReadFile(filepath.Join(dir, "repo-watcher.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "repository=acme/tool")
}

func TestRunFromConfigNoRepositories(t *testing.T) {
	dir := t.TempDir()
	settingsPath := filepath.Join(dir, "repowatch.toml")
	require.NoError(t, os.WriteFile(settingsPath, []byte(fmt.Sprintf("config_dir = %q\n", dir)), 0644))

	err := RunFromConfig(context.Background(), Params{SettingsPath: settingsPath})
	assert.ErrorIs(t, err, ErrNoRepositories)
}

func TestResetTargets(t *testing.T) {
	settings := config.DefaultSettings()
	settings.LogFile = "/var/log/repo-watcher.log"
	settings.Reset.ExtraFiles = []string{"/opt/staging/index.json"}
	repos := testRepos(settings, "a", "b")

	targets := ResetTargets(settings, repos)

	var paths []string
	for _, target := range targets {
		paths = append(paths, target.Path)
	}
	assert.Equal(t, []string{
		repos[0].StateFile,
		repos[1].StateFile,
		"/var/log/repo-watcher.log",
		"/opt/staging/index.json",
	}, paths)
}
