package models

import (
	"fmt"
	"time"
)

// CommitSource selects how the latest commit of a branch is observed.
type CommitSource string

const (
	CommitSourceAPI CommitSource = "api"
	CommitSourceGit CommitSource = "git"
)

// RepositoryConfig describes one watched repository, parsed from a descriptor file.
type RepositoryConfig struct {
	Owner         string       `yaml:"owner" validate:"required"`
	Repo          string       `yaml:"repo" validate:"required"`
	Branch        string       `yaml:"branch" validate:"required"`
	CheckInterval int          `yaml:"check_interval" validate:"gt=0"` // seconds
	StateFile     string       `yaml:"state_file" validate:"required"`
	LogFile       string       `yaml:"log_file,omitempty"`
	CommitSource  CommitSource `yaml:"commit_source,omitempty" validate:"omitempty,oneof=api git"`
	GitURL        string       `yaml:"git_url,omitempty"`

	Pipeline PipelineMetadata `yaml:",inline"`

	// Source is the descriptor file the config was loaded from.
	Source string `yaml:"-"`
}

// PipelineMetadata carries the repository-specific fields handed to the pipeline.
type PipelineMetadata struct {
	PackageName string            `yaml:"package_name,omitempty"`
	Maintainer  string            `yaml:"maintainer,omitempty"`
	Description string            `yaml:"description,omitempty"`
	BuildRoot   string            `yaml:"build_root,omitempty"`
	Command     []string          `yaml:"command,omitempty"`
	Extra       map[string]string `yaml:"extra,omitempty"`
}

// FullName returns the owner/repo form used in logs and pipeline parameters.
func (r RepositoryConfig) FullName() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Repo)
}

// Interval returns the poll interval.
func (r RepositoryConfig) Interval() time.Duration {
	return time.Duration(r.CheckInterval) * time.Second
}

// RemoteURL returns the git URL of the repository, defaulting to GitHub.
func (r RepositoryConfig) RemoteURL() string {
	if r.GitURL != "" {
		return r.GitURL
	}
	return fmt.Sprintf("https://github.com/%s/%s.git", r.Owner, r.Repo)
}
