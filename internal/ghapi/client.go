// Package ghapi wraps the GitHub API surface the engine and orchestrator
// need: pull-request context for reviews and pull-request creation for the
// issue-fix workflow.
package ghapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/execd/internal/jobs"
)

// Compile-time interface satisfaction check.
var _ jobs.PullRequestFetcher = (*Client)(nil)

// Client talks to the GitHub API. REVIEW jobs carry their own tokens, so
// fetches authenticate per call rather than per client. All calls share a
// limiter that keeps the client under GitHub's secondary rate limits.
type Client struct {
	// newClient is swappable in tests.
	newClient func(ctx context.Context, token string) *github.Client
	limiter   *rate.Limiter
}

// NewClient creates a GitHub API client wrapper. Requests are paced at one
// per second with a burst of ten.
func NewClient() *Client {
	return &Client{
		newClient: newTokenClient,
		limiter:   rate.NewLimiter(rate.Limit(1), 10),
	}
}

func newTokenClient(ctx context.Context, token string) *github.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// FetchPullRequest retrieves the pull request's description and assembles a
// unified diff blob from its file patches.
func (c *Client) FetchPullRequest(ctx context.Context, token, owner, repo string, number int) (*jobs.PullRequestDetails, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	gh := c.newClient(ctx, token)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	pr, _, err := gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("get pull request %s/%s#%d: %w", owner, repo, number, err)
	}

	var files []*github.CommitFile
	opt := &github.ListOptions{PerPage: 100}
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
		page, resp, err := gh.PullRequests.ListFiles(ctx, owner, repo, number, opt)
		if err != nil {
			return nil, fmt.Errorf("list pull request files: %w", err)
		}
		files = append(files, page...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}

	return &jobs.PullRequestDetails{
		Number: number,
		Title:  pr.GetTitle(),
		Body:   pr.GetBody(),
		Diff:   BuildDiff(files),
	}, nil
}

// BuildDiff assembles a unified diff blob from pull-request file patches.
// Files without a patch (binary, too large) are skipped.
func BuildDiff(files []*github.CommitFile) string {
	var diff strings.Builder
	for _, file := range files {
		patch := file.GetPatch()
		if patch == "" {
			continue
		}
		name := file.GetFilename()
		diff.WriteString("diff --git a/")
		diff.WriteString(name)
		diff.WriteString(" b/")
		diff.WriteString(name)
		diff.WriteString("\n")
		diff.WriteString(patch)
		diff.WriteString("\n")
	}
	return diff.String()
}

// CreatePullRequest opens a pull request from head against base and returns
// its HTML URL.
func (c *Client) CreatePullRequest(ctx context.Context, token, owner, repo, head, base, title, body string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("github token is required")
	}
	gh := c.newClient(ctx, token)

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	pr, _, err := gh.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(head),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("create pull request %s/%s %s -> %s: %w", owner, repo, head, base, err)
	}
	return pr.GetHTMLURL(), nil
}
