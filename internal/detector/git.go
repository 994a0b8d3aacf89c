package detector

import (
	"context"
	"errors"
	"fmt"

	goGit "github.com/go-git/go-git/v5"
	goGitConfig "github.com/go-git/go-git/v5/config"
	goGitPlumbing "github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/spachava753/repowatch/internal/models"
)

// GitRemote observes the branch head by listing the remote's references,
// the equivalent of `git ls-remote`. It does not report commit times.
type GitRemote struct {
	token string
}

// NewGitRemote creates a git remote commit source. The token, when set, is
// sent as HTTPS basic auth to the default GitHub remote only.
func NewGitRemote(token string) *GitRemote {
	return &GitRemote{token: token}
}

// CheckCommit returns the SHA of refs/heads/<branch> on the remote.
func (g *GitRemote) CheckCommit(ctx context.Context, repo models.RepositoryConfig) (models.Observation, error) {
	remoteURL := repo.RemoteURL()

	remote := goGit.NewRemote(memory.NewStorage(), &goGitConfig.RemoteConfig{
		Name: "origin",
		URLs: []string{remoteURL},
	})

	opts := &goGit.ListOptions{}
	if g.token != "" && repo.GitURL == "" {
		opts.Auth = &http.BasicAuth{Username: "x-access-token", Password: g.token}
	}

	refs, err := remote.ListContext(ctx, opts)
	if err != nil {
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return models.Observation{}, models.ErrNotFound
		}
		return models.Observation{}, &models.DetectionError{Endpoint: remoteURL, Err: fmt.Errorf("listing remote refs: %w", err)}
	}

	want := goGitPlumbing.NewBranchReferenceName(repo.Branch)
	for _, ref := range refs {
		if ref.Name() == want {
			return models.Observation{ID: ref.Hash().String()}, nil
		}
	}

	return models.Observation{}, &models.DetectionError{
		Endpoint: remoteURL,
		Err:      fmt.Errorf("branch %s not found on remote", repo.Branch),
	}
}
