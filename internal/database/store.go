// internal/database/store.go
package database

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	custom_errors "forge-issues/internal/errors"
	"forge-issues/internal/model"
)

// DB is the subset of pgx operations the store needs. Both *pgxpool.Pool and
// pgx.Tx satisfy it, so store methods compose with caller-managed
// transactions.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store implements all persistence operations against Postgres.
type Store struct {
	db        DB
	chunkSize int
}

// New returns a Store with the default upsert chunk size.
func New(db DB) *Store {
	return &Store{db: db, chunkSize: 1000}
}

// WithChunkSize returns a copy of the store using the given issue-upsert
// chunk size.
func (s *Store) WithChunkSize(n int) *Store {
	if n <= 0 {
		n = 1000
	}
	return &Store{db: s.db, chunkSize: n}
}

const hostColumns = `id, name, url, kind, icon_url, status, repositories_count,
	issues_count, pull_requests_count, authors_count, last_synced_at,
	created_at, updated_at`

func scanHost(row pgx.Row) (model.Host, error) {
	var h model.Host
	err := row.Scan(&h.ID, &h.Name, &h.URL, &h.Kind, &h.IconURL, &h.Status,
		&h.RepositoriesCount, &h.IssuesCount, &h.PullRequestsCount,
		&h.AuthorsCount, &h.LastSyncedAt, &h.CreatedAt, &h.UpdatedAt)
	return h, err
}

// GetHostByName looks a host up case-insensitively by name.
func (s *Store) GetHostByName(ctx context.Context, name string) (model.Host, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+hostColumns+` FROM hosts WHERE lower(name) = lower($1)`, name)
	return scanHost(row)
}

// GetHostByID looks a host up by primary key.
func (s *Store) GetHostByID(ctx context.Context, id int64) (model.Host, error) {
	row := s.db.QueryRow(ctx, `SELECT `+hostColumns+` FROM hosts WHERE id = $1`, id)
	return scanHost(row)
}

// ListHosts returns all hosts ordered by name.
func (s *Store) ListHosts(ctx context.Context) ([]model.Host, error) {
	rows, err := s.db.Query(ctx, `SELECT `+hostColumns+` FROM hosts ORDER BY lower(name)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hosts []model.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// UpsertHost creates or refreshes a host record keyed by lower(name). Counts
// are never touched here; they are maintained by UpdateHostCounts.
func (s *Store) UpsertHost(ctx context.Context, name, url, kind string, iconURL *string) (model.Host, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO hosts (name, url, kind, icon_url, last_synced_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (lower(name)) DO UPDATE SET
			url = EXCLUDED.url,
			kind = EXCLUDED.kind,
			icon_url = EXCLUDED.icon_url,
			last_synced_at = now(),
			updated_at = now()
		RETURNING `+hostColumns,
		name, url, kind, iconURL)
	return scanHost(row)
}

// UpdateHostCounts recomputes the host-level aggregates from its visible
// repositories and the distinct author set of its issues.
func (s *Store) UpdateHostCounts(ctx context.Context, hostID int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE hosts SET
			repositories_count = (
				SELECT COUNT(*) FROM repositories
				WHERE host_id = $1 AND status IS NULL AND last_synced_at IS NOT NULL),
			issues_count = (
				SELECT COALESCE(SUM(issues_count), 0) FROM repositories
				WHERE host_id = $1 AND status IS NULL AND last_synced_at IS NOT NULL),
			pull_requests_count = (
				SELECT COALESCE(SUM(pull_requests_count), 0) FROM repositories
				WHERE host_id = $1 AND status IS NULL AND last_synced_at IS NOT NULL),
			authors_count = (
				SELECT COUNT(DISTINCT user_login) FROM issues
				WHERE host_id = $1 AND user_login IS NOT NULL),
			updated_at = now()
		WHERE id = $1`, hostID)
	return err
}

const repoColumns = `id, host_id, full_name, owner, default_branch, status,
	last_synced_at, created_at, updated_at,
	issues_count, pull_requests_count, issues_closed_count,
	pull_requests_closed_count, issue_authors_count, pull_request_authors_count,
	avg_time_to_close_issue, avg_time_to_close_pull_request,
	avg_comments_per_issue, avg_comments_per_pull_request,
	bot_issues_count, bot_pull_requests_count, merged_pull_requests_count,
	past_year_issues_count, past_year_pull_requests_count,
	past_year_issues_closed_count, past_year_pull_requests_closed_count,
	past_year_issue_authors_count, past_year_pull_request_authors_count,
	past_year_avg_time_to_close_issue, past_year_avg_time_to_close_pull_request,
	past_year_avg_comments_per_issue, past_year_avg_comments_per_pull_request,
	past_year_bot_issues_count, past_year_bot_pull_requests_count,
	past_year_merged_pull_requests_count`

func scanRepository(row pgx.Row) (model.Repository, error) {
	var r model.Repository
	err := row.Scan(&r.ID, &r.HostID, &r.FullName, &r.Owner, &r.DefaultBranch,
		&r.Status, &r.LastSyncedAt, &r.CreatedAt, &r.UpdatedAt,
		&r.IssuesCount, &r.PullRequestsCount, &r.IssuesClosedCount,
		&r.PullRequestsClosedCount, &r.IssueAuthorsCount, &r.PullRequestAuthorsCount,
		&r.AvgTimeToCloseIssue, &r.AvgTimeToClosePullRequest,
		&r.AvgCommentsPerIssue, &r.AvgCommentsPerPullRequest,
		&r.BotIssuesCount, &r.BotPullRequestsCount, &r.MergedPullRequestsCount,
		&r.PastYearIssuesCount, &r.PastYearPullRequestsCount,
		&r.PastYearIssuesClosedCount, &r.PastYearPullRequestsClosedCount,
		&r.PastYearIssueAuthorsCount, &r.PastYearPullRequestAuthorsCount,
		&r.PastYearAvgTimeToCloseIssue, &r.PastYearAvgTimeToClosePullRequest,
		&r.PastYearAvgCommentsPerIssue, &r.PastYearAvgCommentsPerPullRequest,
		&r.PastYearBotIssuesCount, &r.PastYearBotPullRequestsCount,
		&r.PastYearMergedPullRequestsCount)
	return r, err
}

// GetRepository looks a repository up by its case-insensitive full name.
func (s *Store) GetRepository(ctx context.Context, hostID int64, fullName string) (model.Repository, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+repoColumns+` FROM repositories
		WHERE host_id = $1 AND lower(full_name) = lower($2)`, hostID, fullName)
	return scanRepository(row)
}

// GetRepositoryByID looks a repository up by primary key.
func (s *Store) GetRepositoryByID(ctx context.Context, id int64) (model.Repository, error) {
	row := s.db.QueryRow(ctx, `SELECT `+repoColumns+` FROM repositories WHERE id = $1`, id)
	return scanRepository(row)
}

// CreateRepository lazily creates a repository row for a full name. If a row
// already exists under a different case, it is returned untouched apart from
// updated_at.
func (s *Store) CreateRepository(ctx context.Context, hostID int64, fullName string) (model.Repository, error) {
	if !strings.Contains(fullName, "/") {
		return model.Repository{}, &custom_errors.ErrInvalidRepoFormat{Repo: fullName}
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO repositories (host_id, full_name, owner)
		VALUES ($1, $2, $3)
		ON CONFLICT (host_id, lower(full_name)) DO UPDATE SET updated_at = now()
		RETURNING `+repoColumns,
		hostID, fullName, model.OwnerLogin(fullName))
	return scanRepository(row)
}

// UpsertRepositories batch-creates any missing repositories for the given
// full names in one statement. Existing rows only get their updated_at
// bumped; owner and full_name are never overwritten. The returned map is
// keyed by lower(full_name).
func (s *Store) UpsertRepositories(ctx context.Context, hostID int64, fullNames []string) (map[string]int64, error) {
	if len(fullNames) == 0 {
		return map[string]int64{}, nil
	}
	owners := make([]string, len(fullNames))
	for i, fn := range fullNames {
		owners[i] = model.OwnerLogin(fn)
	}

	rows, err := s.db.Query(ctx, `
		INSERT INTO repositories (host_id, full_name, owner)
		SELECT $1, t.full_name, t.owner
		FROM unnest($2::text[], $3::text[]) AS t(full_name, owner)
		ON CONFLICT (host_id, lower(full_name)) DO UPDATE SET updated_at = now()
		RETURNING id, full_name`,
		hostID, fullNames, owners)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]int64, len(fullNames))
	for rows.Next() {
		var id int64
		var fullName string
		if err := rows.Scan(&id, &fullName); err != nil {
			return nil, err
		}
		ids[strings.ToLower(fullName)] = id
	}
	return ids, rows.Err()
}

// UpdateRepositorySyncState writes the status and last-synced timestamp after
// a sync attempt. A nil status marks the repository active again.
func (s *Store) UpdateRepositorySyncState(ctx context.Context, id int64, status *string, lastSyncedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE repositories SET status = $2, last_synced_at = $3, updated_at = now()
		WHERE id = $1`, id, status, lastSyncedAt)
	return err
}

// UpdateRepositoryDetails stores metadata fetched from the repository
// directory service.
func (s *Store) UpdateRepositoryDetails(ctx context.Context, id int64, status, defaultBranch *string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE repositories SET status = $2, default_branch = $3, updated_at = now()
		WHERE id = $1`, id, status, defaultBranch)
	return err
}

// ListLeastRecentlySynced returns up to limit active repositories ordered by
// last_synced_at, never-synced first. Feeds the scheduled sweep.
func (s *Store) ListLeastRecentlySynced(ctx context.Context, limit int) ([]model.Repository, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+repoColumns+` FROM repositories
		WHERE status IS NULL
		ORDER BY last_synced_at ASC NULLS FIRST
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRepositories(rows)
}

// ListRepositoriesByHost returns a page of visible repositories for a host.
func (s *Store) ListRepositoriesByHost(ctx context.Context, hostID int64, limit, offset int) ([]model.Repository, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+repoColumns+` FROM repositories
		WHERE host_id = $1 AND status IS NULL AND last_synced_at IS NOT NULL
		ORDER BY lower(full_name)
		LIMIT $2 OFFSET $3`, hostID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRepositories(rows)
}

func collectRepositories(rows pgx.Rows) ([]model.Repository, error) {
	var repos []model.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// RecomputeRepositoryCounts re-aggregates every derived counter for one
// repository from its issues. Full recompute is deliberate: incremental
// maintenance under concurrent partial syncs is a correctness hazard.
func (s *Store) RecomputeRepositoryCounts(ctx context.Context, repoID int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE repositories r SET
			issues_count = s.issues_count,
			pull_requests_count = s.pull_requests_count,
			issues_closed_count = s.issues_closed_count,
			pull_requests_closed_count = s.pull_requests_closed_count,
			issue_authors_count = s.issue_authors_count,
			pull_request_authors_count = s.pull_request_authors_count,
			avg_time_to_close_issue = s.avg_time_to_close_issue,
			avg_time_to_close_pull_request = s.avg_time_to_close_pull_request,
			avg_comments_per_issue = s.avg_comments_per_issue,
			avg_comments_per_pull_request = s.avg_comments_per_pull_request,
			bot_issues_count = s.bot_issues_count,
			bot_pull_requests_count = s.bot_pull_requests_count,
			merged_pull_requests_count = s.merged_pull_requests_count,
			past_year_issues_count = s.py_issues_count,
			past_year_pull_requests_count = s.py_pull_requests_count,
			past_year_issues_closed_count = s.py_issues_closed_count,
			past_year_pull_requests_closed_count = s.py_pull_requests_closed_count,
			past_year_issue_authors_count = s.py_issue_authors_count,
			past_year_pull_request_authors_count = s.py_pull_request_authors_count,
			past_year_avg_time_to_close_issue = s.py_avg_time_to_close_issue,
			past_year_avg_time_to_close_pull_request = s.py_avg_time_to_close_pull_request,
			past_year_avg_comments_per_issue = s.py_avg_comments_per_issue,
			past_year_avg_comments_per_pull_request = s.py_avg_comments_per_pull_request,
			past_year_bot_issues_count = s.py_bot_issues_count,
			past_year_bot_pull_requests_count = s.py_bot_pull_requests_count,
			past_year_merged_pull_requests_count = s.py_merged_pull_requests_count,
			updated_at = now()
		FROM (
			SELECT
				COUNT(*) FILTER (WHERE NOT pull_request) AS issues_count,
				COUNT(*) FILTER (WHERE pull_request) AS pull_requests_count,
				COUNT(*) FILTER (WHERE NOT pull_request AND state = 'closed') AS issues_closed_count,
				COUNT(*) FILTER (WHERE pull_request AND state = 'closed') AS pull_requests_closed_count,
				COUNT(DISTINCT user_login) FILTER (WHERE NOT pull_request) AS issue_authors_count,
				COUNT(DISTINCT user_login) FILTER (WHERE pull_request) AS pull_request_authors_count,
				AVG(time_to_close) FILTER (WHERE NOT pull_request) AS avg_time_to_close_issue,
				AVG(time_to_close) FILTER (WHERE pull_request) AS avg_time_to_close_pull_request,
				AVG(comments_count) FILTER (WHERE NOT pull_request) AS avg_comments_per_issue,
				AVG(comments_count) FILTER (WHERE pull_request) AS avg_comments_per_pull_request,
				COUNT(*) FILTER (WHERE NOT pull_request AND user_login LIKE '%[bot]') AS bot_issues_count,
				COUNT(*) FILTER (WHERE pull_request AND user_login LIKE '%[bot]') AS bot_pull_requests_count,
				COUNT(*) FILTER (WHERE pull_request AND merged_at IS NOT NULL) AS merged_pull_requests_count,
				COUNT(*) FILTER (WHERE NOT pull_request AND created_at > now() - interval '365 days') AS py_issues_count,
				COUNT(*) FILTER (WHERE pull_request AND created_at > now() - interval '365 days') AS py_pull_requests_count,
				COUNT(*) FILTER (WHERE NOT pull_request AND state = 'closed' AND created_at > now() - interval '365 days') AS py_issues_closed_count,
				COUNT(*) FILTER (WHERE pull_request AND state = 'closed' AND created_at > now() - interval '365 days') AS py_pull_requests_closed_count,
				COUNT(DISTINCT user_login) FILTER (WHERE NOT pull_request AND created_at > now() - interval '365 days') AS py_issue_authors_count,
				COUNT(DISTINCT user_login) FILTER (WHERE pull_request AND created_at > now() - interval '365 days') AS py_pull_request_authors_count,
				AVG(time_to_close) FILTER (WHERE NOT pull_request AND created_at > now() - interval '365 days') AS py_avg_time_to_close_issue,
				AVG(time_to_close) FILTER (WHERE pull_request AND created_at > now() - interval '365 days') AS py_avg_time_to_close_pull_request,
				AVG(comments_count) FILTER (WHERE NOT pull_request AND created_at > now() - interval '365 days') AS py_avg_comments_per_issue,
				AVG(comments_count) FILTER (WHERE pull_request AND created_at > now() - interval '365 days') AS py_avg_comments_per_pull_request,
				COUNT(*) FILTER (WHERE NOT pull_request AND user_login LIKE '%[bot]' AND created_at > now() - interval '365 days') AS py_bot_issues_count,
				COUNT(*) FILTER (WHERE pull_request AND user_login LIKE '%[bot]' AND created_at > now() - interval '365 days') AS py_bot_pull_requests_count,
				COUNT(*) FILTER (WHERE pull_request AND merged_at IS NOT NULL AND created_at > now() - interval '365 days') AS py_merged_pull_requests_count
			FROM issues WHERE repository_id = $1
		) s
		WHERE r.id = $1`, repoID)
	return err
}

// RepositoryLabelCounts tallies label occurrences across a repository's
// issues or pull requests, most common first.
func (s *Store) RepositoryLabelCounts(ctx context.Context, repoID int64, pullRequest bool) ([]model.LabelCount, error) {
	rows, err := s.db.Query(ctx, `
		SELECT label, COUNT(*) AS c
		FROM issues, unnest(labels) AS label
		WHERE repository_id = $1 AND pull_request = $2
		GROUP BY label
		ORDER BY c DESC, label ASC`, repoID, pullRequest)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []model.LabelCount
	for rows.Next() {
		var lc model.LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, lc)
	}
	return counts, rows.Err()
}
