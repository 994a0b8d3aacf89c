package supervisor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spachava753/repowatch/internal/config"
	"github.com/spachava753/repowatch/internal/models"
	"github.com/spachava753/repowatch/internal/state"
)

// Params selects the configuration sources and run mode of the process.
type Params struct {
	SettingsPath string
	// SettingsOptional allows a missing settings file (the default path was
	// not given explicitly).
	SettingsOptional bool
	// ConfigPaths are explicit descriptor files; when empty the settings'
	// config_dir is scanned.
	ConfigPaths []string
	// ConfigDir overrides the settings' config_dir.
	ConfigDir string
	// MetricsListenAddress overrides the settings' metrics listen address.
	MetricsListenAddress string

	Once bool
	// Repo selects the repository for Once.
	Repo string
}

// LoadSettings loads the settings file and applies command-line overrides.
func LoadSettings(p Params) (models.Settings, error) {
	settings, err := config.LoadSettings(p.SettingsPath, p.SettingsOptional)
	if err != nil {
		return settings, fmt.Errorf("loading settings: %w", err)
	}
	if p.ConfigDir != "" {
		settings.ConfigDir = p.ConfigDir
	}
	if p.MetricsListenAddress != "" {
		settings.Metrics.ListenAddress = p.MetricsListenAddress
	}
	return settings, nil
}

// LoadRepositories loads the repository descriptors named by p, or those
// discovered in the settings' config_dir.
func LoadRepositories(settings models.Settings, p Params) ([]models.RepositoryConfig, error) {
	loader := config.NewRepositoryLoader(settings)

	var (
		repos []models.RepositoryConfig
		err   error
	)
	if len(p.ConfigPaths) > 0 {
		repos, err = loader.LoadAll(p.ConfigPaths)
	} else {
		repos, err = loader.Discover(settings.ConfigDir)
	}
	if err != nil {
		return nil, fmt.Errorf("loading repository configurations: %w", err)
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoRepositories, settings.ConfigDir)
	}
	return repos, nil
}

// RunFromConfig loads the configuration and runs the watchers until ctx is
// cancelled, or a single cycle when p.Once is set.
func RunFromConfig(ctx context.Context, p Params, opts ...Option) error {
	settings, err := LoadSettings(p)
	if err != nil {
		return err
	}

	repos, err := LoadRepositories(settings, p)
	if err != nil {
		return err
	}

	sup, err := New(settings, repos, opts...)
	if err != nil {
		return fmt.Errorf("creating supervisor: %w", err)
	}
	defer sup.Close()

	if p.Once {
		res, err := sup.RunOnce(ctx, p.Repo)
		if err != nil {
			return err
		}
		slog.Info("single cycle finished", "phase", res.Phase)
		return res.Err
	}

	return sup.Run(ctx)
}

// ResetTargets lists the files removed by a reset: every repository's state
// and log file, the process log file and the configured extra files. Paths
// are listed once.
func ResetTargets(settings models.Settings, repos []models.RepositoryConfig) []state.ResetTarget {
	var targets []state.ResetTarget
	seen := make(map[string]bool)
	add := func(label, path string) {
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		targets = append(targets, state.ResetTarget{Label: label, Path: path})
	}

	for _, repo := range repos {
		add(fmt.Sprintf("State file for %s", repo.FullName()), repo.StateFile)
	}
	for _, repo := range repos {
		add(fmt.Sprintf("Log file for %s", repo.FullName()), repo.LogFile)
	}
	add("Log file", settings.LogFile)
	for _, path := range settings.Reset.ExtraFiles {
		add("File", path)
	}
	return targets
}
