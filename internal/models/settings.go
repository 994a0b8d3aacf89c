package models

import "time"

// Settings is the process-wide watcher configuration (repowatch.toml).
type Settings struct {
	ConfigDir          string           `toml:"config_dir"`
	StateDir           string           `toml:"state_dir"`
	LogFile            string           `toml:"log_file"`
	RunsDir            string           `toml:"runs_dir"`
	LockTimeoutSec     float64          `toml:"lock_timeout_sec"`     // default: 600.0
	DefaultIntervalSec int              `toml:"default_interval_sec"` // default: 30
	GitHub             GitHubSettings   `toml:"github"`
	Pipeline           PipelineSettings `toml:"pipeline"`
	Metrics            MetricsSettings  `toml:"metrics"`
	Reset              ResetSettings    `toml:"reset"`
}

type GitHubSettings struct {
	APIURL     string  `toml:"api_url"`
	TokenEnv   string  `toml:"token_env"`
	TimeoutSec float64 `toml:"timeout_sec"` // default: 30.0
	MaxRetries int     `toml:"max_retries"` // default: 3
}

// RunnerType selects the pipeline execution backend.
type RunnerType string

const (
	RunnerLocal  RunnerType = "local"
	RunnerDocker RunnerType = "docker"
	RunnerModal  RunnerType = "modal"
)

type PipelineSettings struct {
	Runner     RunnerType    `toml:"runner"`
	Command    []string      `toml:"command"`
	WorkDir    string        `toml:"work_dir"`
	TimeoutSec float64       `toml:"timeout_sec"` // default: 7200.0, 0 disables
	Image      string        `toml:"image,omitempty"`
	Modal      ModalSettings `toml:"modal"`
}

type ModalSettings struct {
	AppName string   `toml:"app_name,omitempty"`
	Regions []string `toml:"regions,omitempty"`
	CPUs    int      `toml:"cpus"`   // default: 2
	Memory  string   `toml:"memory"` // default: "4G"
	Verbose bool     `toml:"verbose"`
}

type MetricsSettings struct {
	ListenAddress string `toml:"listen_address"`
	Path          string `toml:"path"`
}

type ResetSettings struct {
	ExtraFiles []string `toml:"extra_files,omitempty"`
}

// LockTimeout returns the bounded wait for the shared pipeline lock.
func (s Settings) LockTimeout() time.Duration {
	return time.Duration(s.LockTimeoutSec * float64(time.Second))
}

// PipelineTimeout returns the pipeline's own timeout, zero meaning none.
func (s Settings) PipelineTimeout() time.Duration {
	return time.Duration(s.Pipeline.TimeoutSec * float64(time.Second))
}
