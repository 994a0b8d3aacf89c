package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/BurntSushi/toml"
	"github.com/spachava753/repowatch/internal/models"
)

// DefaultSettingsPath is where the service looks for its settings when no
// path is given on the command line.
const DefaultSettingsPath = "/opt/repo-watcher/repowatch.toml"

// DefaultSettings returns Settings with default values.
func DefaultSettings() models.Settings {
	return models.Settings{
		ConfigDir:          "configs",
		StateDir:           "state",
		LogFile:            "log/repo-watcher.log",
		RunsDir:            "runs",
		LockTimeoutSec:     600.0,
		DefaultIntervalSec: 30,
		GitHub: models.GitHubSettings{
			APIURL:     "https://api.github.com",
			TokenEnv:   "GITHUB_TOKEN",
			TimeoutSec: 30.0,
			MaxRetries: 3,
		},
		Pipeline: models.PipelineSettings{
			Runner:     models.RunnerLocal,
			Command:    []string{"ansible-playbook", "build-and-package.yml"},
			WorkDir:    "/opt/repo-watcher/pipeline",
			TimeoutSec: 7200.0,
			Modal: models.ModalSettings{
				CPUs:   2,
				Memory: "4G",
			},
		},
		Metrics: models.MetricsSettings{
			Path: "/metrics",
		},
	}
}

// LoadSettings loads repowatch.toml from path. When optional is true a
// missing file yields the defaults.
func LoadSettings(path string, optional bool) (models.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			slog.Debug("settings file not found, using defaults", "path", path)
			return DefaultSettings(), nil
		}
		return DefaultSettings(), fmt.Errorf("reading settings: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings decodes settings TOML over the defaults and validates the result.
func ParseSettings(data []byte) (models.Settings, error) {
	cfg := DefaultSettings()

	// check_interval is the key used by single-repository configs; accept it
	// as the default interval when default_interval_sec is absent.
	var legacy struct {
		CheckInterval int `toml:"check_interval"`
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parsing settings: %w", err)
	}
	if !md.IsDefined("default_interval_sec") && md.IsDefined("check_interval") {
		if _, err := toml.Decode(string(data), &legacy); err != nil {
			return cfg, fmt.Errorf("parsing settings: %w", err)
		}
		cfg.DefaultIntervalSec = legacy.CheckInterval
	}

	for _, key := range md.Undecoded() {
		if key.String() == "check_interval" {
			continue
		}
		slog.Warn("unknown settings key", "key", key.String())
	}

	// Apply defaults for missing values
	def := DefaultSettings()
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = def.ConfigDir
	}
	if cfg.StateDir == "" {
		cfg.StateDir = def.StateDir
	}
	if cfg.LogFile == "" {
		cfg.LogFile = def.LogFile
	}
	if cfg.RunsDir == "" {
		cfg.RunsDir = def.RunsDir
	}
	if cfg.DefaultIntervalSec == 0 {
		cfg.DefaultIntervalSec = def.DefaultIntervalSec
	}
	if cfg.GitHub.APIURL == "" {
		cfg.GitHub.APIURL = def.GitHub.APIURL
	}
	if cfg.GitHub.MaxRetries == 0 {
		cfg.GitHub.MaxRetries = def.GitHub.MaxRetries
	}
	if cfg.Pipeline.Runner == "" {
		cfg.Pipeline.Runner = def.Pipeline.Runner
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = def.Metrics.Path
	}

	if err := ValidateSettings(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ValidateSettings checks cross-field constraints of the settings.
func ValidateSettings(cfg models.Settings) error {
	if cfg.LockTimeoutSec <= 0 {
		return fmt.Errorf("lock_timeout_sec must be positive, got %v", cfg.LockTimeoutSec)
	}
	if cfg.DefaultIntervalSec < 0 {
		return fmt.Errorf("default_interval_sec must be positive, got %d", cfg.DefaultIntervalSec)
	}
	if cfg.Pipeline.TimeoutSec < 0 {
		return fmt.Errorf("pipeline.timeout_sec must not be negative, got %v", cfg.Pipeline.TimeoutSec)
	}
	runners := []models.RunnerType{models.RunnerLocal, models.RunnerDocker, models.RunnerModal}
	if !slices.Contains(runners, cfg.Pipeline.Runner) {
		return fmt.Errorf("unsupported pipeline runner: %s", cfg.Pipeline.Runner)
	}
	if len(cfg.Pipeline.Command) == 0 {
		return fmt.Errorf("pipeline.command must not be empty")
	}
	if cfg.Pipeline.Runner != models.RunnerLocal && cfg.Pipeline.Image == "" {
		return fmt.Errorf("pipeline.image is required for the %s runner", cfg.Pipeline.Runner)
	}
	return nil
}
