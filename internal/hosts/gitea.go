// internal/hosts/gitea.go
package hosts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/peterhellberg/link"

	custom_errors "forge-issues/internal/errors"
	"forge-issues/internal/model"
	"forge-issues/internal/normalize"
)

// Gitea fetches issues from Gitea-family hosts. A single endpoint returns
// both issues and pull requests, distinguished by the presence of a
// pull_request sub-object; pagination follows RFC 5988 Link response headers.
type Gitea struct {
	httpClient *http.Client
	logger     *slog.Logger
	// TokenFor resolves the bearer token for a host instance.
	TokenFor func(host *model.Host) string
}

// NewGitea creates the Gitea-style adapter with a fixed token.
func NewGitea(token string, timeout time.Duration, logger *slog.Logger) *Gitea {
	return &Gitea{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		TokenFor:   func(*model.Host) string { return token },
	}
}

type giteaIssue struct {
	ID        int64      `json:"id"`
	Number    int64      `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	IsLocked  bool       `json:"is_locked"`
	Comments  int64      `json:"comments"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	User      *struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
	PullRequest *struct {
		Merged   bool       `json:"merged"`
		MergedAt *time.Time `json:"merged_at"`
	} `json:"pull_request"`
}

// FetchIssues pages through /api/v1/repos/{full_name}/issues following the
// rel="next" Link header until it is absent.
func (g *Gitea) FetchIssues(ctx context.Context, host *model.Host, repo *model.Repository, since *time.Time, emit BatchFunc) error {
	q := url.Values{}
	q.Set("state", "all")
	q.Set("type", "all")
	q.Set("limit", strconv.Itoa(perPage))
	if since != nil {
		// Upstream names the parameter `since`; keep `updated_after` alongside
		// for forks that renamed it.
		q.Set("since", since.Format(time.RFC3339))
		q.Set("updated_after", since.Format(time.RFC3339))
	}
	next := fmt.Sprintf("%s/api/v1/repos/%s/issues?%s", host.URL, repo.FullName, q.Encode())

	for next != "" {
		g.logger.Debug("Fetching issues page", "host", host.Name, "repo", repo.FullName, "url", next)
		batch, nextURL, err := g.fetchPage(ctx, host, repo, next)
		if err != nil {
			return err
		}
		if err := emit(ctx, batch); err != nil {
			return err
		}
		next = nextURL
	}
	return nil
}

func (g *Gitea) fetchPage(ctx context.Context, host *model.Host, repo *model.Repository, pageURL string) ([]model.Issue, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", err
	}
	if token := g.TokenFor(host); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, "", &custom_errors.IgnorableHostError{Err: err}
	}
	defer resp.Body.Close()

	if err := classifyGiteaStatus(resp.StatusCode); err != nil {
		return nil, "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &custom_errors.IgnorableHostError{Err: err}
	}

	// Decode record-by-record so one malformed entry does not sink the page.
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, "", fmt.Errorf("decoding issues page: %w", err)
	}
	batch := make([]model.Issue, 0, len(raw))
	for _, r := range raw {
		var gi giteaIssue
		if err := json.Unmarshal(r, &gi); err != nil || gi.ID == 0 {
			g.logger.Warn("Skipping malformed issue record", "repo", repo.FullName, "error", err)
			continue
		}
		batch = append(batch, mapGiteaIssue(host.ID, repo.ID, &gi))
	}

	var next string
	if l := link.ParseResponse(resp)["next"]; l != nil {
		next = l.URI
	}
	return batch, next, nil
}

func mapGiteaIssue(hostID, repoID int64, gi *giteaIssue) model.Issue {
	out := model.Issue{
		RepositoryID:  repoID,
		HostID:        hostID,
		UUID:          strconv.FormatInt(gi.ID, 10),
		Number:        gi.Number,
		State:         gi.State,
		Title:         gi.Title,
		Locked:        gi.IsLocked,
		CommentsCount: gi.Comments,
		PullRequest:   gi.PullRequest != nil,
		Labels:        []string{},
		Assignees:     []string{},
		CreatedAt:     gi.CreatedAt,
		UpdatedAt:     gi.UpdatedAt,
		ClosedAt:      gi.ClosedAt,
	}
	if gi.User != nil && gi.User.Login != "" {
		u := gi.User.Login
		out.User = &u
	}
	for _, l := range gi.Labels {
		if l.Name != "" {
			out.Labels = append(out.Labels, l.Name)
		}
	}
	for _, a := range gi.Assignees {
		if a.Login != "" {
			out.Assignees = append(out.Assignees, a.Login)
		}
	}
	if gi.PullRequest != nil {
		out.MergedAt = gi.PullRequest.MergedAt
	}
	normalize.Finalize(&out)
	return out
}

func classifyGiteaStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusNotFound, status == http.StatusGone:
		return fmt.Errorf("%w: status %d", custom_errors.ErrRepositoryMissing, status)
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusConflict,
		status >= 500:
		return &custom_errors.IgnorableHostError{Status: status, Err: fmt.Errorf("status %d", status)}
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}
