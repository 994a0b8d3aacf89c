package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spachava753/repowatch/internal/config"
	"github.com/spachava753/repowatch/internal/models"
)

func TestParseSettings(t *testing.T) {
	settingsToml := `config_dir = "/etc/repowatch/configs"
lock_timeout_sec = 120.0

[github]
api_url = "https://ghe.example.com/api/v3"
max_retries = 5

[pipeline]
runner = "docker"
image = "debian:bookworm"
command = ["make", "package"]
timeout_sec = 900.0

[metrics]
listen_address = ":9101"
`

	cfg, err := config.ParseSettings([]byte(settingsToml))
	if err != nil {
		t.Fatalf("ParseSettings failed: %v", err)
	}

	if cfg.ConfigDir != "/etc/repowatch/configs" {
		t.Errorf("expected config_dir /etc/repowatch/configs, got %s", cfg.ConfigDir)
	}

	if cfg.LockTimeoutSec != 120.0 {
		t.Errorf("expected lock timeout 120, got %f", cfg.LockTimeoutSec)
	}

	if cfg.GitHub.APIURL != "https://ghe.example.com/api/v3" {
		t.Errorf("expected custom api url, got %s", cfg.GitHub.APIURL)
	}

	if cfg.GitHub.TokenEnv != "GITHUB_TOKEN" {
		t.Errorf("expected default token env, got %s", cfg.GitHub.TokenEnv)
	}

	if cfg.Pipeline.Runner != models.RunnerDocker {
		t.Errorf("expected docker runner, got %s", cfg.Pipeline.Runner)
	}

	if len(cfg.Pipeline.Command) != 2 || cfg.Pipeline.Command[0] != "make" {
		t.Errorf("expected command [make package], got %v", cfg.Pipeline.Command)
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("expected default metrics path, got %s", cfg.Metrics.Path)
	}

	if cfg.DefaultIntervalSec != 30 {
		t.Errorf("expected default interval 30, got %d", cfg.DefaultIntervalSec)
	}
}

func TestParseSettingsLegacyCheckInterval(t *testing.T) {
	cfg, err := config.ParseSettings([]byte("check_interval = 45\n"))
	if err != nil {
		t.Fatalf("ParseSettings failed: %v", err)
	}
	if cfg.DefaultIntervalSec != 45 {
		t.Errorf("expected default interval 45, got %d", cfg.DefaultIntervalSec)
	}
}

func TestParseSettingsInvalid(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		errContains string
	}{
		{"bad toml", "lock_timeout_sec = ", "parsing settings"},
		{"zero lock timeout", "lock_timeout_sec = 0.0", "lock_timeout_sec"},
		{"unknown runner", "[pipeline]\nrunner = \"k8s\"", "unsupported pipeline runner"},
		{"docker without image", "[pipeline]\nrunner = \"docker\"", "pipeline.image"},
		{"empty command", "[pipeline]\ncommand = []", "pipeline.command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.ParseSettings([]byte(tt.input))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("expected error containing %q, got %v", tt.errContains, err)
			}
		})
	}
}

func TestLoadSettingsOptional(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "repowatch.toml")

	cfg, err := config.LoadSettings(missing, true)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if cfg.LockTimeoutSec != 600.0 {
		t.Errorf("expected default lock timeout 600, got %f", cfg.LockTimeoutSec)
	}

	if _, err := config.LoadSettings(missing, false); err == nil {
		t.Error("expected error for missing explicit settings file")
	}
}

func TestDefaultSettings(t *testing.T) {
	cfg := config.DefaultSettings()

	if cfg.LockTimeoutSec != 600.0 {
		t.Errorf("expected default lock_timeout_sec 600, got %f", cfg.LockTimeoutSec)
	}

	if cfg.Pipeline.Runner != models.RunnerLocal {
		t.Errorf("expected default runner local, got %s", cfg.Pipeline.Runner)
	}

	if cfg.Pipeline.WorkDir != "/opt/repo-watcher/pipeline" {
		t.Errorf("expected default work_dir /opt/repo-watcher/pipeline, got %s", cfg.Pipeline.WorkDir)
	}

	if err := config.ValidateSettings(cfg); err != nil {
		t.Errorf("default settings should be valid: %v", err)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadRepositoryConfigYAML(t *testing.T) {
	repoYaml := `owner: NVIDIA
repo: dcgm-exporter
branch: release
check_interval: 60
state_file: /var/lib/repowatch/dcgm.json
maintainer: Ops Team <ops@example.com>
description: DCGM exporter package
build_root: /opt/build/dcgm
extra:
  arch: amd64
`
	path := writeFile(t, t.TempDir(), "dcgm.yaml", repoYaml)

	loader := config.NewRepositoryLoader(config.DefaultSettings())
	cfg, err := loader.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.FullName() != "NVIDIA/dcgm-exporter" {
		t.Errorf("expected NVIDIA/dcgm-exporter, got %s", cfg.FullName())
	}

	if cfg.Branch != "release" {
		t.Errorf("expected branch release, got %s", cfg.Branch)
	}

	if cfg.CheckInterval != 60 {
		t.Errorf("expected interval 60, got %d", cfg.CheckInterval)
	}

	if cfg.Pipeline.Maintainer != "Ops Team <ops@example.com>" {
		t.Errorf("unexpected maintainer %q", cfg.Pipeline.Maintainer)
	}

	if cfg.Pipeline.BuildRoot != "/opt/build/dcgm" {
		t.Errorf("unexpected build root %q", cfg.Pipeline.BuildRoot)
	}

	if cfg.Pipeline.PackageName != "dcgm-exporter" {
		t.Errorf("expected package name to default to repo, got %q", cfg.Pipeline.PackageName)
	}

	if cfg.Pipeline.Extra["arch"] != "amd64" {
		t.Errorf("expected extra arch amd64, got %v", cfg.Pipeline.Extra)
	}

	if cfg.Source != path {
		t.Errorf("expected source %s, got %s", path, cfg.Source)
	}
}

func TestLoadRepositoryConfigJSONDefaults(t *testing.T) {
	repoJSON := `{"owner": "NVIDIA", "repo": "dcgm-exporter", "maintainer": "ops"}`
	path := writeFile(t, t.TempDir(), "dcgm.json", repoJSON)

	settings := config.DefaultSettings()
	settings.StateDir = "/var/lib/repowatch"
	loader := config.NewRepositoryLoader(settings)

	cfg, err := loader.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Branch != "main" {
		t.Errorf("expected default branch main, got %s", cfg.Branch)
	}

	if cfg.CheckInterval != 30 {
		t.Errorf("expected default interval 30, got %d", cfg.CheckInterval)
	}

	want := filepath.Join("/var/lib/repowatch", "NVIDIA__dcgm-exporter.json")
	if cfg.StateFile != want {
		t.Errorf("expected state file %s, got %s", want, cfg.StateFile)
	}

	if cfg.LogFile != settings.LogFile {
		t.Errorf("expected log file %s, got %s", settings.LogFile, cfg.LogFile)
	}

	if cfg.CommitSource != models.CommitSourceAPI {
		t.Errorf("expected commit source api, got %s", cfg.CommitSource)
	}
}

func TestLoadRepositoryConfigInvalid(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		errContains string
	}{
		{"missing owner", `repo: x`, "Owner"},
		{"negative interval", "owner: a\nrepo: b\ncheck_interval: -5", "CheckInterval"},
		{"bad commit source", "owner: a\nrepo: b\ncommit_source: svn", "CommitSource"},
		{"malformed", "owner: [", "parsing repository config"},
		{"unknown key", "owner: a\nrepo: b\nbuildroot: /opt", "field buildroot not found"},
		{"nested pipeline json", `{"owner": "a", "repo": "b", "pipeline": {"maintainer": "ops"}}`, "field pipeline not found"},
	}

	loader := config.NewRepositoryLoader(config.DefaultSettings())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "repo.yaml", tt.content)
			_, err := loader.Load(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("expected error containing %q, got %v", tt.errContains, err)
			}
		})
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.yaml", "owner: acme\nrepo: beta\n")
	writeFile(t, dir, "a.json", `{"owner": "acme", "repo": "alpha"}`)
	writeFile(t, dir, "notes.txt", "ignored")
	if err := os.Mkdir(filepath.Join(dir, "sub.yaml"), 0755); err != nil {
		t.Fatal(err)
	}

	loader := config.NewRepositoryLoader(config.DefaultSettings())
	repos, err := loader.Discover(dir)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if len(repos) != 2 {
		t.Fatalf("expected 2 repositories, got %d", len(repos))
	}

	if repos[0].Repo != "alpha" || repos[1].Repo != "beta" {
		t.Errorf("expected sorted [alpha beta], got [%s %s]", repos[0].Repo, repos[1].Repo)
	}
}

func TestDiscoverEmptyDir(t *testing.T) {
	loader := config.NewRepositoryLoader(config.DefaultSettings())
	repos, err := loader.Discover(t.TempDir())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(repos) != 0 {
		t.Errorf("expected no repositories, got %d", len(repos))
	}
}

func TestLoadAllRejectsSharedStateFile(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", "owner: acme\nrepo: alpha\nstate_file: state/shared.json\n")
	b := writeFile(t, dir, "b.yaml", "owner: acme\nrepo: beta\nstate_file: state/shared.json\n")

	loader := config.NewRepositoryLoader(config.DefaultSettings())
	_, err := loader.LoadAll([]string{a, b})
	if err == nil {
		t.Fatal("expected error for shared state file")
	}
	if !strings.Contains(err.Error(), "shared") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadAllRejectsDuplicateTarget(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", "owner: acme\nrepo: alpha\nstate_file: one.json\n")
	b := writeFile(t, dir, "b.yaml", "owner: acme\nrepo: alpha\nstate_file: two.json\n")

	loader := config.NewRepositoryLoader(config.DefaultSettings())
	if _, err := loader.LoadAll([]string{a, b}); err == nil {
		t.Fatal("expected error for duplicate repository")
	}
}
