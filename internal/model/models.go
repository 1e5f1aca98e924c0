// internal/model/models.go
package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Host kinds understood by the adapter registry.
const (
	KindGitHub = "github"
	KindGitLab = "gitlab"
	KindGitea  = "gitea"
)

// Repository status values. An active repository has no status.
const (
	RepoStatusNotFound = "not_found"
	RepoStatusError    = "error"
)

// Host represents one forge instance (e.g. github.com or a self-hosted GitLab).
type Host struct {
	ID                int64
	Name              string
	URL               string
	Kind              string
	IconURL           *string
	Status            *string
	RepositoriesCount int64
	IssuesCount       int64
	PullRequestsCount int64
	AuthorsCount      int64
	LastSyncedAt      *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Domain returns the hostname portion of the host's URL.
func (h *Host) Domain() string {
	u, err := url.Parse(h.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// RepositoryCounts holds the derived aggregates maintained for a repository.
// Every counter exists twice: all-time and trailing-365-day. All of them are
// fully recomputed from the issues table after each successful sync rather
// than adjusted incrementally.
type RepositoryCounts struct {
	IssuesCount                       *int64
	PullRequestsCount                 *int64
	IssuesClosedCount                 *int64
	PullRequestsClosedCount           *int64
	IssueAuthorsCount                 *int64
	PullRequestAuthorsCount           *int64
	AvgTimeToCloseIssue               *float64
	AvgTimeToClosePullRequest         *float64
	AvgCommentsPerIssue               *float64
	AvgCommentsPerPullRequest         *float64
	BotIssuesCount                    *int64
	BotPullRequestsCount              *int64
	MergedPullRequestsCount           *int64
	PastYearIssuesCount               *int64
	PastYearPullRequestsCount         *int64
	PastYearIssuesClosedCount         *int64
	PastYearPullRequestsClosedCount   *int64
	PastYearIssueAuthorsCount         *int64
	PastYearPullRequestAuthorsCount   *int64
	PastYearAvgTimeToCloseIssue       *float64
	PastYearAvgTimeToClosePullRequest *float64
	PastYearAvgCommentsPerIssue       *float64
	PastYearAvgCommentsPerPullRequest *float64
	PastYearBotIssuesCount            *int64
	PastYearBotPullRequestsCount      *int64
	PastYearMergedPullRequestsCount   *int64
}

// Repository is one forge repository scoped to a host, keyed uniquely by
// (host_id, lower(full_name)).
type Repository struct {
	ID            int64
	HostID        int64
	FullName      string
	Owner         string
	DefaultBranch *string
	Status        *string
	LastSyncedAt  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	RepositoryCounts
}

// OwnerLogin returns the first path segment of a full name.
func OwnerLogin(fullName string) string {
	owner, _, _ := strings.Cut(fullName, "/")
	return owner
}

// ProjectName returns everything after the owner segment, which for GitLab
// subgroup projects may itself contain slashes.
func (r *Repository) ProjectName() string {
	_, name, ok := strings.Cut(r.FullName, "/")
	if !ok {
		return r.FullName
	}
	return name
}

// Active reports whether the repository has no terminal status set.
func (r *Repository) Active() bool {
	return r.Status == nil
}

// HTMLURL returns the browsable URL for the repository on its host.
func (r *Repository) HTMLURL(host *Host) string {
	return strings.TrimSuffix(host.URL, "/") + "/" + r.FullName
}

// Issue is a normalized issue-or-PR row. UUID is the host's native identifier
// and, together with HostID, the dedup key; Number is only unique within a
// repository.
type Issue struct {
	ID                int64
	RepositoryID      int64
	HostID            int64
	UUID              string
	Number            int64
	State             string
	Title             string
	User              *string
	Labels            []string
	Assignees         []string
	Locked            bool
	CommentsCount     int64
	PullRequest       bool
	AuthorAssociation *string
	StateReason       *string
	TimeToClose       *int64
	CreatedAt         *time.Time
	UpdatedAt         *time.Time
	ClosedAt          *time.Time
	MergedAt          *time.Time
}

// Import is one row of the archive-importer idempotency ledger, unique per
// snapshot filename.
type Import struct {
	ID                int64
	Filename          string
	ImportedAt        *time.Time
	IssuesCount       int64
	PullRequestsCount int64
	CreatedCount      int64
	UpdatedCount      int64
	Success           bool
	ErrorMessage      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ImportFilename builds the ledger key for one archive hour.
func ImportFilename(date time.Time, hour int) string {
	return fmt.Sprintf("%s-%d.json.gz", date.Format("2006-01-02"), hour)
}

// URL returns the public archive URL for a ledger entry.
func (i *Import) URL(baseURL string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + i.Filename
}

// ImportStats accumulates per-run importer counters.
type ImportStats struct {
	IssuesCount       int64
	PullRequestsCount int64
	CreatedCount      int64
	UpdatedCount      int64
}

// Add merges another stats value into the receiver.
func (s *ImportStats) Add(other ImportStats) {
	s.IssuesCount += other.IssuesCount
	s.PullRequestsCount += other.PullRequestsCount
	s.CreatedCount += other.CreatedCount
	s.UpdatedCount += other.UpdatedCount
}

// Job statuses. pending -> queued -> working -> complete | error.
const (
	JobStatusPending  = "pending"
	JobStatusQueued   = "queued"
	JobStatusWorking  = "working"
	JobStatusComplete = "complete"
	JobStatusError    = "error"
)

// Job is an async sync-request record. The queue itself is opaque; the row is
// the status contract visible to callers.
type Job struct {
	ID         string
	URL        string
	Status     string
	IP         string
	QueueMsgID *string
	Results    []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// InProgress reports whether the job has not reached a terminal status.
func (j *Job) InProgress() bool {
	switch j.Status {
	case JobStatusPending, JobStatusQueued, JobStatusWorking:
		return true
	}
	return false
}

// Finished reports whether the job reached a terminal status.
func (j *Job) Finished() bool {
	return j.Status == JobStatusComplete || j.Status == JobStatusError
}

// Owner is a per-host login-keyed visibility flag used to suppress spam
// accounts from aggregate views. Sync never consults it; hiding is a
// read-time concern.
type Owner struct {
	ID        int64
	HostID    int64
	Login     string
	Hidden    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LabelCount is one entry of a per-repository label tally.
type LabelCount struct {
	Label string
	Count int64
}
