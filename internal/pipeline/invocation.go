package pipeline

import (
	"fmt"
	"time"

	"github.com/spachava753/repowatch/internal/models"
)

// versionDateLayout is the date suffix appended to every derived version.
const versionDateLayout = "20060102"

// shortSHALen is the commit prefix length used in commit versions.
const shortSHALen = 7

// Version derives the package version for an event on the given day.
// A release yields "<tag>-YYYYMMDD" and a commit "commit-<sha7>-YYYYMMDD".
func Version(kind models.EventKind, id string, now time.Time) string {
	date := now.Format(versionDateLayout)
	if kind == models.EventCommit {
		sha := id
		if len(sha) > shortSHALen {
			sha = sha[:shortSHALen]
		}
		return fmt.Sprintf("commit-%s-%s", sha, date)
	}
	return fmt.Sprintf("%s-%s", id, date)
}

// NewInvocation builds the parameter set handed to the pipeline. The version
// date is the invocation date, not the upstream event's timestamp.
func NewInvocation(event models.ChangeEvent, repo models.RepositoryConfig, now time.Time, runID string) models.PipelineInvocation {
	return models.PipelineInvocation{
		RunID:       runID,
		Version:     Version(event.Kind, event.ID, now),
		GitRef:      event.ID,
		Kind:        event.Kind,
		Repository:  repo.FullName(),
		RepoName:    repo.Repo,
		PackageName: repo.Pipeline.PackageName,
		Maintainer:  repo.Pipeline.Maintainer,
		Description: repo.Pipeline.Description,
		BuildRoot:   repo.Pipeline.BuildRoot,
		Extra:       repo.Pipeline.Extra,
		RequestedAt: now,
	}
}
