package detector

import (
	"context"

	"github.com/spachava753/repowatch/internal/models"
)

// ReleaseChecker observes the latest release of a repository.
type ReleaseChecker interface {
	CheckRelease(ctx context.Context, repo models.RepositoryConfig) (models.Observation, error)
}

// CommitChecker observes the head commit of a repository branch.
type CommitChecker interface {
	CheckCommit(ctx context.Context, repo models.RepositoryConfig) (models.Observation, error)
}

// Composite answers release and commit checks from separate sources.
type Composite struct {
	ReleaseChecker
	CommitChecker
}

// WithCommitSource combines a release source with a different commit source.
func WithCommitSource(releases ReleaseChecker, commits CommitChecker) *Composite {
	return &Composite{ReleaseChecker: releases, CommitChecker: commits}
}
