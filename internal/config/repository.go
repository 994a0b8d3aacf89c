package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/spachava753/repowatch/internal/models"
)

// descriptorExts are the file extensions read from a config directory.
// JSON descriptors are parsed by the YAML decoder. Unknown keys are rejected.
var descriptorExts = []string{".yaml", ".yml", ".json"}

// RepositoryLoader loads and validates repository descriptors.
type RepositoryLoader struct {
	settings models.Settings
	validate *validator.Validate
}

// NewRepositoryLoader creates a loader that fills missing descriptor fields
// from the given settings.
func NewRepositoryLoader(settings models.Settings) *RepositoryLoader {
	return &RepositoryLoader{
		settings: settings,
		validate: validator.New(),
	}
}

// Load parses a single descriptor file.
func (l *RepositoryLoader) Load(path string) (models.RepositoryConfig, error) {
	var cfg models.RepositoryConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading repository config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing repository config %s: %w", path, err)
	}
	cfg.Source = path

	l.applyDefaults(&cfg)

	if err := l.validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid repository config %s: %w", path, describeValidation(err))
	}

	return cfg, nil
}

// applyDefaults fills fields left empty by the descriptor.
func (l *RepositoryLoader) applyDefaults(cfg *models.RepositoryConfig) {
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = l.settings.DefaultIntervalSec
	}
	if cfg.StateFile == "" && cfg.Owner != "" && cfg.Repo != "" {
		cfg.StateFile = filepath.Join(l.settings.StateDir, fmt.Sprintf("%s__%s.json", cfg.Owner, cfg.Repo))
	}
	if cfg.LogFile == "" {
		cfg.LogFile = l.settings.LogFile
	}
	if cfg.CommitSource == "" {
		cfg.CommitSource = models.CommitSourceAPI
	}
	if cfg.Pipeline.PackageName == "" {
		cfg.Pipeline.PackageName = cfg.Repo
	}
}

// Discover loads every descriptor in dir, sorted by file name.
func (l *RepositoryLoader) Discover(dir string) ([]models.RepositoryConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading config directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		for _, want := range descriptorExts {
			if ext == want {
				paths = append(paths, filepath.Join(dir, entry.Name()))
				break
			}
		}
	}
	sort.Strings(paths)

	return l.LoadAll(paths)
}

// LoadAll loads the given descriptor files and rejects configurations in
// which two descriptors would share a state file or watch the same branch.
func (l *RepositoryLoader) LoadAll(paths []string) ([]models.RepositoryConfig, error) {
	repos := make([]models.RepositoryConfig, 0, len(paths))
	for _, path := range paths {
		cfg, err := l.Load(path)
		if err != nil {
			return nil, err
		}
		repos = append(repos, cfg)
	}

	if err := checkUnique(repos); err != nil {
		return nil, err
	}
	return repos, nil
}

func checkUnique(repos []models.RepositoryConfig) error {
	stateFiles := make(map[string]string)
	targets := make(map[string]string)

	for _, r := range repos {
		statePath := filepath.Clean(r.StateFile)
		if prev, ok := stateFiles[statePath]; ok {
			return fmt.Errorf("state file %s is shared by %s and %s", r.StateFile, prev, r.Source)
		}
		stateFiles[statePath] = r.Source

		target := fmt.Sprintf("%s@%s", r.FullName(), r.Branch)
		if prev, ok := targets[target]; ok {
			return fmt.Errorf("%s is configured twice (%s and %s)", target, prev, r.Source)
		}
		targets[target] = r.Source
	}
	return nil
}

// describeValidation flattens validator errors into one readable message.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
