package gitops

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// PRProvider opens pull requests on the hosting provider.
type PRProvider interface {
	Create(ctx context.Context, repo, title, body, base, head string) (PullRequest, error)
}

// GitHub implements PRProvider against the GitHub API.
type GitHub struct {
	client *github.Client
}

// NewGitHub returns a PRProvider authenticated with the given token.
func NewGitHub(ctx context.Context, token string) *GitHub {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHub{client: github.NewClient(oauth2.NewClient(ctx, ts))}
}

// Create opens a pull request. repo is "owner/name".
func (g *GitHub) Create(ctx context.Context, repo, title, body, base, head string) (PullRequest, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok {
		return PullRequest{}, fmt.Errorf("create pull request: repo %q is not owner/name", repo)
	}
	pr, _, err := g.client.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
		Title: github.String(title),
		Body:  github.String(body),
		Base:  github.String(base),
		Head:  github.String(head),
	})
	if err != nil {
		return PullRequest{}, fmt.Errorf("create pull request: %w", err)
	}
	return PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}
