// internal/api/views.go
package api

import (
	"encoding/json"
	"time"

	"forge-issues/internal/model"
	"forge-issues/internal/normalize"
)

// View types decouple the JSON surface from the storage structs, so column
// renames never leak into responses.

type hostView struct {
	Name              string     `json:"name"`
	URL               string     `json:"url"`
	Domain            string     `json:"domain"`
	Kind              string     `json:"kind"`
	IconURL           *string    `json:"icon_url"`
	RepositoriesCount int64      `json:"repositories_count"`
	IssuesCount       int64      `json:"issues_count"`
	PullRequestsCount int64      `json:"pull_requests_count"`
	AuthorsCount      int64      `json:"authors_count"`
	LastSyncedAt      *time.Time `json:"last_synced_at"`
}

func newHostView(h model.Host) hostView {
	return hostView{
		Name:              h.Name,
		URL:               h.URL,
		Domain:            h.Domain(),
		Kind:              h.Kind,
		IconURL:           h.IconURL,
		RepositoriesCount: h.RepositoriesCount,
		IssuesCount:       h.IssuesCount,
		PullRequestsCount: h.PullRequestsCount,
		AuthorsCount:      h.AuthorsCount,
		LastSyncedAt:      h.LastSyncedAt,
	}
}

type repositoryView struct {
	FullName      string     `json:"full_name"`
	Owner         string     `json:"owner"`
	HTMLURL       string     `json:"html_url"`
	DefaultBranch *string    `json:"default_branch"`
	Status        *string    `json:"status"`
	Active        bool       `json:"active"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	IssuesCount                       *int64   `json:"issues_count"`
	PullRequestsCount                 *int64   `json:"pull_requests_count"`
	IssuesClosedCount                 *int64   `json:"issues_closed_count"`
	PullRequestsClosedCount           *int64   `json:"pull_requests_closed_count"`
	IssueAuthorsCount                 *int64   `json:"issue_authors_count"`
	PullRequestAuthorsCount           *int64   `json:"pull_request_authors_count"`
	AvgTimeToCloseIssue               *float64 `json:"avg_time_to_close_issue"`
	AvgTimeToClosePullRequest         *float64 `json:"avg_time_to_close_pull_request"`
	AvgCommentsPerIssue               *float64 `json:"avg_comments_per_issue"`
	AvgCommentsPerPullRequest         *float64 `json:"avg_comments_per_pull_request"`
	BotIssuesCount                    *int64   `json:"bot_issues_count"`
	BotPullRequestsCount              *int64   `json:"bot_pull_requests_count"`
	MergedPullRequestsCount           *int64   `json:"merged_pull_requests_count"`
	PastYearIssuesCount               *int64   `json:"past_year_issues_count"`
	PastYearPullRequestsCount         *int64   `json:"past_year_pull_requests_count"`
	PastYearIssuesClosedCount         *int64   `json:"past_year_issues_closed_count"`
	PastYearPullRequestsClosedCount   *int64   `json:"past_year_pull_requests_closed_count"`
	PastYearIssueAuthorsCount         *int64   `json:"past_year_issue_authors_count"`
	PastYearPullRequestAuthorsCount   *int64   `json:"past_year_pull_request_authors_count"`
	PastYearAvgTimeToCloseIssue       *float64 `json:"past_year_avg_time_to_close_issue"`
	PastYearAvgTimeToClosePullRequest *float64 `json:"past_year_avg_time_to_close_pull_request"`
	PastYearAvgCommentsPerIssue       *float64 `json:"past_year_avg_comments_per_issue"`
	PastYearAvgCommentsPerPullRequest *float64 `json:"past_year_avg_comments_per_pull_request"`
	PastYearBotIssuesCount            *int64   `json:"past_year_bot_issues_count"`
	PastYearBotPullRequestsCount      *int64   `json:"past_year_bot_pull_requests_count"`
	PastYearMergedPullRequestsCount   *int64   `json:"past_year_merged_pull_requests_count"`
}

func newRepositoryView(r model.Repository, host *model.Host) repositoryView {
	v := repositoryView{
		FullName:      r.FullName,
		Owner:         r.Owner,
		DefaultBranch: r.DefaultBranch,
		Status:        r.Status,
		Active:        r.Active(),
		LastSyncedAt:  r.LastSyncedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,

		IssuesCount:                       r.IssuesCount,
		PullRequestsCount:                 r.PullRequestsCount,
		IssuesClosedCount:                 r.IssuesClosedCount,
		PullRequestsClosedCount:           r.PullRequestsClosedCount,
		IssueAuthorsCount:                 r.IssueAuthorsCount,
		PullRequestAuthorsCount:           r.PullRequestAuthorsCount,
		AvgTimeToCloseIssue:               r.AvgTimeToCloseIssue,
		AvgTimeToClosePullRequest:         r.AvgTimeToClosePullRequest,
		AvgCommentsPerIssue:               r.AvgCommentsPerIssue,
		AvgCommentsPerPullRequest:         r.AvgCommentsPerPullRequest,
		BotIssuesCount:                    r.BotIssuesCount,
		BotPullRequestsCount:              r.BotPullRequestsCount,
		MergedPullRequestsCount:           r.MergedPullRequestsCount,
		PastYearIssuesCount:               r.PastYearIssuesCount,
		PastYearPullRequestsCount:         r.PastYearPullRequestsCount,
		PastYearIssuesClosedCount:         r.PastYearIssuesClosedCount,
		PastYearPullRequestsClosedCount:   r.PastYearPullRequestsClosedCount,
		PastYearIssueAuthorsCount:         r.PastYearIssueAuthorsCount,
		PastYearPullRequestAuthorsCount:   r.PastYearPullRequestAuthorsCount,
		PastYearAvgTimeToCloseIssue:       r.PastYearAvgTimeToCloseIssue,
		PastYearAvgTimeToClosePullRequest: r.PastYearAvgTimeToClosePullRequest,
		PastYearAvgCommentsPerIssue:       r.PastYearAvgCommentsPerIssue,
		PastYearAvgCommentsPerPullRequest: r.PastYearAvgCommentsPerPullRequest,
		PastYearBotIssuesCount:            r.PastYearBotIssuesCount,
		PastYearBotPullRequestsCount:      r.PastYearBotPullRequestsCount,
		PastYearMergedPullRequestsCount:   r.PastYearMergedPullRequestsCount,
	}
	if host != nil {
		v.HTMLURL = r.HTMLURL(host)
	}
	return v
}

type issueView struct {
	UUID              string     `json:"uuid"`
	Number            int64      `json:"number"`
	State             string     `json:"state"`
	Title             string     `json:"title"`
	User              *string    `json:"user"`
	Labels            []string   `json:"labels"`
	Assignees         []string   `json:"assignees"`
	Locked            bool       `json:"locked"`
	CommentsCount     int64      `json:"comments_count"`
	PullRequest       bool       `json:"pull_request"`
	AuthorAssociation *string    `json:"author_association"`
	StateReason       *string    `json:"state_reason"`
	TimeToClose       *int64     `json:"time_to_close"`
	CreatedAt         *time.Time `json:"created_at"`
	UpdatedAt         *time.Time `json:"updated_at"`
	ClosedAt          *time.Time `json:"closed_at"`
	MergedAt          *time.Time `json:"merged_at"`

	DependencyUpdate *normalize.DependencyUpdate `json:"dependency_update,omitempty"`
}

func newIssueView(i model.Issue) issueView {
	v := issueView{
		UUID:              i.UUID,
		Number:            i.Number,
		State:             i.State,
		Title:             i.Title,
		User:              i.User,
		Labels:            i.Labels,
		Assignees:         i.Assignees,
		Locked:            i.Locked,
		CommentsCount:     i.CommentsCount,
		PullRequest:       i.PullRequest,
		AuthorAssociation: i.AuthorAssociation,
		StateReason:       i.StateReason,
		TimeToClose:       i.TimeToClose,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
		ClosedAt:          i.ClosedAt,
		MergedAt:          i.MergedAt,
	}
	if i.PullRequest {
		v.DependencyUpdate = normalize.ParseDependencyUpdate(i.User, i.Title, i.Labels)
	}
	return v
}

type importView struct {
	Filename          string     `json:"filename"`
	URL               string     `json:"url"`
	ImportedAt        *time.Time `json:"imported_at"`
	IssuesCount       int64      `json:"issues_count"`
	PullRequestsCount int64      `json:"pull_requests_count"`
	CreatedCount      int64      `json:"created_count"`
	UpdatedCount      int64      `json:"updated_count"`
	Success           bool       `json:"success"`
	ErrorMessage      *string    `json:"error_message"`
}

func newImportView(imp model.Import, archiveBaseURL string) importView {
	return importView{
		Filename:          imp.Filename,
		URL:               imp.URL(archiveBaseURL),
		ImportedAt:        imp.ImportedAt,
		IssuesCount:       imp.IssuesCount,
		PullRequestsCount: imp.PullRequestsCount,
		CreatedCount:      imp.CreatedCount,
		UpdatedCount:      imp.UpdatedCount,
		Success:           imp.Success,
		ErrorMessage:      imp.ErrorMessage,
	}
}

type jobView struct {
	ID         string          `json:"id"`
	URL        string          `json:"url"`
	Status     string          `json:"status"`
	InProgress bool            `json:"in_progress"`
	Results    json.RawMessage `json:"results"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func newJobView(j model.Job) jobView {
	return jobView{
		ID:         j.ID,
		URL:        j.URL,
		Status:     j.Status,
		InProgress: j.InProgress(),
		Results:    j.Results,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}
