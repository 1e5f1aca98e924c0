// internal/hosts/github.go
package hosts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	custom_errors "forge-issues/internal/errors"
	"forge-issues/internal/model"
	"forge-issues/internal/normalize"
)

// GitHub fetches issues and pull requests through the REST v3 API using a
// pool of bearer tokens, one picked at random per page to spread rate limits.
type GitHub struct {
	pool    *TokenPool
	logger  *slog.Logger
	baseURL string
}

// NewGitHub creates the GitHub-style adapter.
func NewGitHub(pool *TokenPool, logger *slog.Logger) *GitHub {
	return &GitHub{pool: pool, logger: logger}
}

// OverrideBaseURL points the adapter at a different API root, used in tests.
func (g *GitHub) OverrideBaseURL(url string) {
	g.baseURL = url
}

func (g *GitHub) client(ctx context.Context) (*github.Client, error) {
	token, err := g.pool.Random()
	if err != nil {
		return nil, err
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if g.baseURL != "" {
		client, err = client.WithEnterpriseURLs(g.baseURL, g.baseURL)
		if err != nil {
			return nil, err
		}
	}
	return client, nil
}

// FetchIssues pages through /repos/{owner}/{repo}/issues, which covers both
// issues and pull requests; PRs are recognized by the pull_request links
// object. Each page is emitted as one batch.
func (g *GitHub) FetchIssues(ctx context.Context, host *model.Host, repo *model.Repository, since *time.Time, emit BatchFunc) error {
	owner := model.OwnerLogin(repo.FullName)
	name := repo.ProjectName()

	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	if since != nil {
		opts.Since = *since
	}

	for {
		client, err := g.client(ctx)
		if err != nil {
			return err
		}
		g.logger.Debug("Fetching issues page", "host", host.Name, "repo", repo.FullName, "page", opts.Page)

		issues, resp, err := client.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return classifyGitHubError(err)
		}

		batch := make([]model.Issue, 0, len(issues))
		for _, issue := range issues {
			if issue == nil || issue.GetID() == 0 {
				g.logger.Warn("Skipping malformed issue record", "repo", repo.FullName)
				continue
			}
			batch = append(batch, mapGitHubIssue(host.ID, repo.ID, issue))
		}
		if err := emit(ctx, batch); err != nil {
			return err
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return nil
}

// mapGitHubIssue translates a REST issue payload to the canonical record.
// Pull-request payloads have occasionally arrived minimal (little more than
// id/number), so missing fields get defaults instead of failing the record.
func mapGitHubIssue(hostID, repoID int64, issue *github.Issue) model.Issue {
	out := model.Issue{
		RepositoryID:  repoID,
		HostID:        hostID,
		UUID:          strconv.FormatInt(issue.GetID(), 10),
		Number:        int64(issue.GetNumber()),
		State:         issue.GetState(),
		Title:         issue.GetTitle(),
		Locked:        issue.GetLocked(),
		CommentsCount: int64(issue.GetComments()),
		PullRequest:   issue.PullRequestLinks != nil,
		Labels:        []string{},
		Assignees:     []string{},
	}
	if out.State == "" {
		out.State = "open"
	}
	if out.Title == "" && out.PullRequest {
		out.Title = fmt.Sprintf("PR #%d", out.Number)
	}
	if u := issue.GetUser().GetLogin(); u != "" {
		out.User = &u
	}
	for _, l := range issue.Labels {
		if l.GetName() != "" {
			out.Labels = append(out.Labels, l.GetName())
		}
	}
	for _, a := range issue.Assignees {
		if a.GetLogin() != "" {
			out.Assignees = append(out.Assignees, a.GetLogin())
		}
	}
	if aa := issue.GetAuthorAssociation(); aa != "" {
		out.AuthorAssociation = &aa
	}
	if sr := issue.GetStateReason(); sr != "" {
		out.StateReason = &sr
	}
	if ts := issue.GetCreatedAt(); !ts.IsZero() {
		t := ts.Time
		out.CreatedAt = &t
	}
	if ts := issue.GetUpdatedAt(); !ts.IsZero() {
		t := ts.Time
		out.UpdatedAt = &t
	}
	if ts := issue.GetClosedAt(); !ts.IsZero() {
		t := ts.Time
		out.ClosedAt = &t
	}
	normalize.Finalize(&out)
	return out
}

// classifyGitHubError sorts upstream failures into the taxonomy: authoritative
// absence (404, gone, legally unavailable) versus transient noise
// (unauthorized, conflict, rate limits, 5xx).
func classifyGitHubError(err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &custom_errors.IgnorableHostError{Status: http.StatusForbidden, Err: err}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &custom_errors.IgnorableHostError{Status: http.StatusForbidden, Err: err}
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		switch {
		case status == http.StatusNotFound,
			status == http.StatusGone,
			status == http.StatusUnavailableForLegalReasons:
			return fmt.Errorf("%w: %v", custom_errors.ErrRepositoryMissing, err)
		case status == http.StatusUnauthorized,
			status == http.StatusForbidden,
			status == http.StatusConflict,
			status >= 500:
			return &custom_errors.IgnorableHostError{Status: status, Err: err}
		}
	}
	return err
}

// CheckTokens probes every pooled token against the rate-limit endpoint and
// evicts the ones answering unauthorized.
func (g *GitHub) CheckTokens(ctx context.Context) {
	for _, token := range g.pool.List() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		client := github.NewClient(oauth2.NewClient(ctx, ts))
		if g.baseURL != "" {
			var err error
			client, err = client.WithEnterpriseURLs(g.baseURL, g.baseURL)
			if err != nil {
				continue
			}
		}
		_, resp, err := client.RateLimit.Get(ctx)
		if err != nil && resp != nil && resp.StatusCode == http.StatusUnauthorized {
			g.logger.Warn("Removing dead token from pool")
			g.pool.Remove(token)
		}
	}
}
