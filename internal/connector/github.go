package connector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	derrors "github.com/driftline/driftline/internal/errors"
	"github.com/driftline/driftline/internal/store"
)

// GitHubFetcher pulls issues (with comments) updated inside the window
// from the configured repositories, one item per issue. Pull requests
// surface through the issues API and are skipped.
type GitHubFetcher struct {
	baseURL string
	limiter *rate.Limiter
}

var _ Fetcher = (*GitHubFetcher)(nil)

// NewGitHubFetcher creates a GitHub fetcher against api.github.com.
func NewGitHubFetcher() *GitHubFetcher {
	// Authenticated requests get 5000/hour; keep a comfortable margin.
	return &GitHubFetcher{limiter: rate.NewLimiter(rate.Limit(1), 5)}
}

// NewGitHubFetcherWithBase creates a fetcher against a custom endpoint,
// used by tests to point at a local server.
func NewGitHubFetcherWithBase(baseURL string) *GitHubFetcher {
	return &GitHubFetcher{
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

func (f *GitHubFetcher) Type() store.ConnectorType { return store.ConnectorTypeGitHub }

func (f *GitHubFetcher) DocumentType() store.DocumentType { return store.DocumentTypeGitHubConnector }

func (f *GitHubFetcher) newClient(ctx context.Context, token string) (*gh.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = 30 * time.Second

	client := gh.NewClient(tc)
	if f.baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(f.baseURL, f.baseURL)
		if err != nil {
			return nil, derrors.ConnectorError("github: configure base URL", err)
		}
	}
	return client, nil
}

// FetchSince lists issues updated at or after since across all
// configured repositories.
func (f *GitHubFetcher) FetchSince(ctx context.Context, cfg map[string]string, since time.Time) ([]Item, error) {
	token := cfg[KeyPersonalToken]
	if token == "" {
		return nil, derrors.New(derrors.ErrCodeConnectorConfig, "github: personal token missing", nil)
	}
	repos := splitRepositories(cfg[KeyRepositories])
	if len(repos) == 0 {
		return nil, derrors.New(derrors.ErrCodeConnectorConfig, "github: no repositories configured", nil)
	}

	client, err := f.newClient(ctx, token)
	if err != nil {
		return nil, err
	}

	var items []Item
	for _, repo := range repos {
		owner, name, ok := strings.Cut(repo, "/")
		if !ok {
			return nil, derrors.New(derrors.ErrCodeConnectorConfig,
				fmt.Sprintf("github: repository %q is not owner/name", repo), nil)
		}

		repoItems, err := f.fetchRepoIssues(ctx, client, owner, name, since)
		if err != nil {
			return nil, err
		}
		items = append(items, repoItems...)
	}
	return items, nil
}

func (f *GitHubFetcher) fetchRepoIssues(ctx context.Context, client *gh.Client, owner, name string, since time.Time) ([]Item, error) {
	opts := &gh.IssueListByRepoOptions{
		State:     "all",
		Since:     since,
		Sort:      "updated",
		Direction: "asc",
		ListOptions: gh.ListOptions{
			PerPage: 100,
		},
	}

	var items []Item
	for {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		issues, resp, err := client.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, derrors.ConnectorError(
				fmt.Sprintf("github: list issues for %s/%s", owner, name), err)
		}

		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			item, err := f.issueItem(ctx, client, owner, name, issue)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}
	return items, nil
}

func (f *GitHubFetcher) issueItem(ctx context.Context, client *gh.Client, owner, name string, issue *gh.Issue) (Item, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s\n", issue.GetTitle(), issue.GetBody())

	if issue.GetComments() > 0 {
		comments, err := f.issueComments(ctx, client, owner, name, issue.GetNumber())
		if err != nil {
			return Item{}, err
		}
		for _, c := range comments {
			fmt.Fprintf(&b, "\n---\n%s (%s):\n%s\n",
				c.GetUser().GetLogin(), c.GetCreatedAt().Format("2006-01-02"), c.GetBody())
		}
	}

	repo := owner + "/" + name
	return Item{
		ExternalID: fmt.Sprintf("%s#%d", repo, issue.GetNumber()),
		Title:      fmt.Sprintf("%s #%d: %s", repo, issue.GetNumber(), issue.GetTitle()),
		Content:    b.String(),
		Metadata: map[string]string{
			"repository": repo,
			"number":     strconv.Itoa(issue.GetNumber()),
			"state":      issue.GetState(),
			"url":        issue.GetHTMLURL(),
			"updated_at": issue.GetUpdatedAt().Format(time.RFC3339),
		},
	}, nil
}

func (f *GitHubFetcher) issueComments(ctx context.Context, client *gh.Client, owner, name string, number int) ([]*gh.IssueComment, error) {
	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var comments []*gh.IssueComment
	for {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, resp, err := client.Issues.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, derrors.ConnectorError(
				fmt.Sprintf("github: list comments for %s/%s#%d", owner, name, number), err)
		}
		comments = append(comments, page...)

		if resp == nil || resp.NextPage == 0 {
			return comments, nil
		}
		opts.Page = resp.NextPage
	}
}
