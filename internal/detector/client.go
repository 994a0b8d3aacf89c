package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spachava753/repowatch/internal/models"
)

// maxBodyBytes bounds how much of an API response is read.
const maxBodyBytes = 10 << 20

// Doer performs HTTP requests (allows mocking and retrying clients).
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig configures the repository-hosting API client.
type ClientConfig struct {
	BaseURL   string
	Token     string
	UserAgent string
}

// Client queries the GitHub REST API for the latest release and commit.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      Doer
}

// NewClient creates a new API client.
func NewClient(cfg ClientConfig, httpClient Doer) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "repowatch"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:   baseURL,
		token:     cfg.Token,
		userAgent: userAgent,
		http:      httpClient,
	}
}

type githubRelease struct {
	TagName     string `json:"tag_name"`
	PublishedAt string `json:"published_at"`
}

type githubCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Committer struct {
			Date string `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

// CheckRelease returns the tag and publish time of the latest release.
// It returns models.ErrNotFound when the repository has no releases.
func (c *Client) CheckRelease(ctx context.Context, repo models.RepositoryConfig) (models.Observation, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/latest",
		c.baseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Repo))

	var rel githubRelease
	if err := c.getJSON(ctx, endpoint, &rel); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return models.Observation{}, models.ErrNotFound
		}
		return models.Observation{}, err
	}

	if rel.TagName == "" {
		return models.Observation{}, &models.DetectionError{
			Endpoint: endpoint,
			Err:      errors.New("response has no tag_name"),
		}
	}

	return models.Observation{ID: rel.TagName, Timestamp: rel.PublishedAt}, nil
}

// CheckCommit returns the SHA and commit time of the branch head.
// It returns models.ErrNotFound when the repository has no commits.
func (c *Client) CheckCommit(ctx context.Context, repo models.RepositoryConfig) (models.Observation, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/commits?sha=%s&per_page=1",
		c.baseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Repo), url.QueryEscape(repo.Branch))

	var commits []githubCommit
	if err := c.getJSON(ctx, endpoint, &commits); err != nil {
		// 409 is GitHub's answer for an empty repository
		if statusOf(err) == http.StatusConflict {
			return models.Observation{}, models.ErrNotFound
		}
		return models.Observation{}, err
	}

	if len(commits) == 0 {
		return models.Observation{}, models.ErrNotFound
	}

	head := commits[0]
	if head.SHA == "" {
		return models.Observation{}, &models.DetectionError{
			Endpoint: endpoint,
			Err:      errors.New("response has no sha"),
		}
	}

	return models.Observation{ID: head.SHA, Timestamp: head.Commit.Committer.Date}, nil
}

// getJSON performs a GET and decodes a 2xx JSON body into result. Every
// failure is returned as a *models.DetectionError.
func (c *Client) getJSON(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &models.DetectionError{Endpoint: endpoint, Err: fmt.Errorf("creating request: %w", err)}
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &models.DetectionError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &models.DetectionError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &models.DetectionError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", http.StatusText(resp.StatusCode)),
		}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return &models.DetectionError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return nil
}

func statusOf(err error) int {
	var derr *models.DetectionError
	if errors.As(err, &derr) {
		return derr.StatusCode
	}
	return 0
}
