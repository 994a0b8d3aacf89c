package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EventKind identifies what kind of upstream change was detected.
type EventKind string

const (
	EventRelease EventKind = "release"
	EventCommit  EventKind = "commit"
)

// Observation is one answer from the change detector: an identifier
// (release tag or commit SHA) and its raw upstream timestamp.
type Observation struct {
	ID        string
	Timestamp string
}

// ChangeEvent is a detected difference between upstream and the stored state.
type ChangeEvent struct {
	Kind EventKind
	// ID is the new release tag or commit SHA.
	ID string
	// Timestamp is the display form of the upstream timestamp.
	Timestamp string
}

// PipelineInvocation is the structured parameter set passed to the pipeline.
type PipelineInvocation struct {
	RunID       string            `json:"run_id"`
	Version     string            `json:"version"`
	GitRef      string            `json:"git_ref"`
	Kind        EventKind         `json:"event_type"`
	Repository  string            `json:"repository"`
	RepoName    string            `json:"repo_name"`
	PackageName string            `json:"package_name"`
	Maintainer  string            `json:"maintainer,omitempty"`
	Description string            `json:"description,omitempty"`
	BuildRoot   string            `json:"build_root,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
}

// Env renders the invocation as environment variables for the pipeline process.
func (inv PipelineInvocation) Env() map[string]string {
	env := map[string]string{
		"PACKAGE_VERSION":     inv.Version,
		"GIT_REF":             inv.GitRef,
		"EVENT_TYPE":          string(inv.Kind),
		"OWNER_REPO_NAME":     inv.Repository,
		"REPO_NAME":           inv.RepoName,
		"PACKAGE_NAME":        inv.PackageName,
		"PACKAGE_MAINTAINER":  inv.Maintainer,
		"PACKAGE_DESCRIPTION": inv.Description,
		"BUILD_ROOT":          inv.BuildRoot,
		"PIPELINE_RUN_ID":     inv.RunID,
	}
	for k, v := range inv.Extra {
		env["PIPELINE_EXTRA_"+envKey(k)] = v
	}
	return env
}

// EnvList returns Env as sorted KEY=VALUE pairs.
func (inv PipelineInvocation) EnvList() []string {
	env := inv.Env()
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(list)
	return list
}

func envKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// TriggerResult reports the outcome of one pipeline trigger.
type TriggerResult struct {
	Success  bool
	RunID    string
	Version  string
	ExitCode int
	Duration time.Duration
	// Err is a *LockTimeoutError, *PipelineExecutionError or a context error
	// when Success is false.
	Err error
}
