// internal/hosts/gitlab.go
package hosts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	gitlab "github.com/xanzy/go-gitlab"

	custom_errors "forge-issues/internal/errors"
	"forge-issues/internal/model"
	"forge-issues/internal/normalize"
)

// GitLab fetches issues and merge requests as two separate page-cursor
// streams against the REST v4 API of the repository's host.
type GitLab struct {
	logger *slog.Logger
	// TokenFor resolves the private token for a host instance.
	TokenFor func(host *model.Host) string
}

// NewGitLab creates the GitLab-style adapter with a fixed token.
func NewGitLab(token string, logger *slog.Logger) *GitLab {
	return &GitLab{
		logger:   logger,
		TokenFor: func(*model.Host) string { return token },
	}
}

func (g *GitLab) client(host *model.Host) (*gitlab.Client, error) {
	return gitlab.NewClient(g.TokenFor(host), gitlab.WithBaseURL(host.URL+"/api/v4"))
}

// FetchIssues streams the issues endpoint followed by the merge_requests
// endpoint, tagging records pull_request=false/true respectively.
func (g *GitLab) FetchIssues(ctx context.Context, host *model.Host, repo *model.Repository, since *time.Time, emit BatchFunc) error {
	client, err := g.client(host)
	if err != nil {
		return err
	}
	if err := g.fetchIssueStream(ctx, client, host, repo, since, emit); err != nil {
		return err
	}
	return g.fetchMergeRequestStream(ctx, client, host, repo, since, emit)
}

func (g *GitLab) fetchIssueStream(ctx context.Context, client *gitlab.Client, host *model.Host, repo *model.Repository, since *time.Time, emit BatchFunc) error {
	opts := &gitlab.ListProjectIssuesOptions{
		State:       gitlab.Ptr("all"),
		OrderBy:     gitlab.Ptr("updated_at"),
		Sort:        gitlab.Ptr("desc"),
		ListOptions: gitlab.ListOptions{PerPage: perPage, Page: 1},
	}
	opts.UpdatedAfter = since

	for {
		g.logger.Debug("Fetching issues page", "host", host.Name, "repo", repo.FullName, "page", opts.Page)
		issues, resp, err := client.Issues.ListProjectIssues(repo.FullName, opts, gitlab.WithContext(ctx))
		if err != nil {
			return classifyGitLabError(err)
		}

		batch := make([]model.Issue, 0, len(issues))
		for _, issue := range issues {
			if issue == nil || issue.ID == 0 {
				g.logger.Warn("Skipping malformed issue record", "repo", repo.FullName)
				continue
			}
			batch = append(batch, mapGitLabIssue(host.ID, repo.ID, issue))
		}
		if err := emit(ctx, batch); err != nil {
			return err
		}

		if resp.NextPage == 0 {
			return nil
		}
		opts.Page = resp.NextPage
	}
}

func (g *GitLab) fetchMergeRequestStream(ctx context.Context, client *gitlab.Client, host *model.Host, repo *model.Repository, since *time.Time, emit BatchFunc) error {
	opts := &gitlab.ListProjectMergeRequestsOptions{
		State:       gitlab.Ptr("all"),
		OrderBy:     gitlab.Ptr("updated_at"),
		Sort:        gitlab.Ptr("desc"),
		ListOptions: gitlab.ListOptions{PerPage: perPage, Page: 1},
	}
	opts.UpdatedAfter = since

	for {
		g.logger.Debug("Fetching merge requests page", "host", host.Name, "repo", repo.FullName, "page", opts.Page)
		mrs, resp, err := client.MergeRequests.ListProjectMergeRequests(repo.FullName, opts, gitlab.WithContext(ctx))
		if err != nil {
			return classifyGitLabError(err)
		}

		batch := make([]model.Issue, 0, len(mrs))
		for _, mr := range mrs {
			if mr == nil || mr.ID == 0 {
				g.logger.Warn("Skipping malformed merge request record", "repo", repo.FullName)
				continue
			}
			batch = append(batch, mapGitLabMergeRequest(host.ID, repo.ID, mr))
		}
		if err := emit(ctx, batch); err != nil {
			return err
		}

		if resp.NextPage == 0 {
			return nil
		}
		opts.Page = resp.NextPage
	}
}

func mapGitLabIssue(hostID, repoID int64, issue *gitlab.Issue) model.Issue {
	out := model.Issue{
		RepositoryID:  repoID,
		HostID:        hostID,
		UUID:          strconv.Itoa(issue.ID),
		Number:        int64(issue.IID),
		State:         issue.State,
		Title:         issue.Title,
		Locked:        issue.DiscussionLocked,
		CommentsCount: int64(issue.UserNotesCount),
		PullRequest:   false,
		Labels:        append([]string{}, issue.Labels...),
		Assignees:     []string{},
		CreatedAt:     issue.CreatedAt,
		UpdatedAt:     issue.UpdatedAt,
		ClosedAt:      issue.ClosedAt,
	}
	if issue.Author != nil && issue.Author.Username != "" {
		u := issue.Author.Username
		out.User = &u
	}
	for _, a := range issue.Assignees {
		if a != nil && a.Username != "" {
			out.Assignees = append(out.Assignees, a.Username)
		}
	}
	normalize.Finalize(&out)
	return out
}

func mapGitLabMergeRequest(hostID, repoID int64, mr *gitlab.MergeRequest) model.Issue {
	out := model.Issue{
		RepositoryID:  repoID,
		HostID:        hostID,
		UUID:          strconv.Itoa(mr.ID),
		Number:        int64(mr.IID),
		State:         mr.State,
		Title:         mr.Title,
		Locked:        mr.DiscussionLocked,
		CommentsCount: int64(mr.UserNotesCount),
		PullRequest:   true,
		Labels:        append([]string{}, mr.Labels...),
		Assignees:     []string{},
		CreatedAt:     mr.CreatedAt,
		UpdatedAt:     mr.UpdatedAt,
		ClosedAt:      mr.ClosedAt,
		MergedAt:      mr.MergedAt,
	}
	if mr.Author != nil && mr.Author.Username != "" {
		u := mr.Author.Username
		out.User = &u
	}
	for _, a := range mr.Assignees {
		if a != nil && a.Username != "" {
			out.Assignees = append(out.Assignees, a.Username)
		}
	}
	normalize.Finalize(&out)
	return out
}

func classifyGitLabError(err error) error {
	var respErr *gitlab.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		switch {
		case status == http.StatusNotFound, status == http.StatusGone:
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
