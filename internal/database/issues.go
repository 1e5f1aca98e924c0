// internal/database/issues.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"forge-issues/internal/model"
)

const issueColumns = `id, repository_id, host_id, uuid, number, state, title,
	user_login, labels, assignees, locked, comments_count, pull_request,
	author_association, state_reason, time_to_close,
	created_at, updated_at, closed_at, merged_at`

func scanIssue(row pgx.Row) (model.Issue, error) {
	var i model.Issue
	err := row.Scan(&i.ID, &i.RepositoryID, &i.HostID, &i.UUID, &i.Number,
		&i.State, &i.Title, &i.User, &i.Labels, &i.Assignees, &i.Locked,
		&i.CommentsCount, &i.PullRequest, &i.AuthorAssociation, &i.StateReason,
		&i.TimeToClose, &i.CreatedAt, &i.UpdatedAt, &i.ClosedAt, &i.MergedAt)
	return i, err
}

// upsertIssueSQL inserts a row or updates the whitelist of mutable columns on
// (host_id, uuid) conflict. created_at is write-once: it is set on insert and
// never overwritten by later upserts.
const upsertIssueSQL = `
	INSERT INTO issues (repository_id, host_id, uuid, number, state, title,
		user_login, labels, assignees, locked, comments_count, pull_request,
		author_association, state_reason, time_to_close,
		created_at, updated_at, closed_at, merged_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	ON CONFLICT (host_id, uuid) DO UPDATE SET
		repository_id = EXCLUDED.repository_id,
		number = EXCLUDED.number,
		state = EXCLUDED.state,
		title = EXCLUDED.title,
		user_login = EXCLUDED.user_login,
		labels = EXCLUDED.labels,
		assignees = EXCLUDED.assignees,
		locked = EXCLUDED.locked,
		comments_count = EXCLUDED.comments_count,
		author_association = EXCLUDED.author_association,
		state_reason = EXCLUDED.state_reason,
		time_to_close = EXCLUDED.time_to_close,
		updated_at = EXCLUDED.updated_at,
		closed_at = EXCLUDED.closed_at,
		merged_at = EXCLUDED.merged_at`

// BulkUpsertIssues writes a batch of normalized issues in fixed-size chunks,
// keyed by (host_id, uuid). Duplicate uuids within the batch are collapsed to
// the last occurrence before writing. Returns how many rows were newly
// created versus updated, determined by a single pre-upsert existence lookup.
// All rows in the batch must share the same host.
func (s *Store) BulkUpsertIssues(ctx context.Context, issues []model.Issue) (created, updated int64, err error) {
	issues = DedupLastWins(issues)
	if len(issues) == 0 {
		return 0, 0, nil
	}

	hostID := issues[0].HostID
	uuids := make([]string, len(issues))
	for i, issue := range issues {
		if issue.HostID != hostID {
			return 0, 0, fmt.Errorf("bulk upsert: mixed host ids (%d and %d)", hostID, issue.HostID)
		}
		uuids[i] = issue.UUID
	}

	existing, err := s.existingIssueUUIDs(ctx, hostID, uuids)
	if err != nil {
		return 0, 0, err
	}
	for _, u := range uuids {
		if existing[u] {
			updated++
		} else {
			created++
		}
	}

	for start := 0; start < len(issues); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(issues) {
			end = len(issues)
		}
		if err := s.upsertIssueChunk(ctx, issues[start:end]); err != nil {
			return 0, 0, fmt.Errorf("upserting issues %d..%d: %w", start, end, err)
		}
	}
	return created, updated, nil
}

func (s *Store) upsertIssueChunk(ctx context.Context, issues []model.Issue) error {
	batch := &pgx.Batch{}
	for _, i := range issues {
		labels := i.Labels
		if labels == nil {
			labels = []string{}
		}
		assignees := i.Assignees
		if assignees == nil {
			assignees = []string{}
		}
		batch.Queue(upsertIssueSQL,
			i.RepositoryID, i.HostID, i.UUID, i.Number, i.State, i.Title,
			i.User, labels, assignees, i.Locked, i.CommentsCount,
			i.PullRequest, i.AuthorAssociation, i.StateReason, i.TimeToClose,
			i.CreatedAt, i.UpdatedAt, i.ClosedAt, i.MergedAt)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	for range issues {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return results.Close()
}

func (s *Store) existingIssueUUIDs(ctx context.Context, hostID int64, uuids []string) (map[string]bool, error) {
	rows, err := s.db.Query(ctx,
		`SELECT uuid FROM issues WHERE host_id = $1 AND uuid = ANY($2)`, hostID, uuids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		existing[u] = true
	}
	return existing, rows.Err()
}

// DedupLastWins collapses duplicate uuids within one batch, keeping the
// record at the later position. Relative order of the survivors is preserved.
func DedupLastWins(issues []model.Issue) []model.Issue {
	if len(issues) < 2 {
		return issues
	}
	type key struct {
		hostID int64
		uuid   string
	}
	last := make(map[key]int, len(issues))
	for idx, i := range issues {
		last[key{i.HostID, i.UUID}] = idx
	}
	out := issues[:0:0]
	for idx, i := range issues {
		if last[key{i.HostID, i.UUID}] == idx {
			out = append(out, i)
		}
	}
	return out
}

// ListIssuesByRepository returns a page of a repository's issues, most
// recently updated first.
func (s *Store) ListIssuesByRepository(ctx context.Context, repoID int64, limit, offset int) ([]model.Issue, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE repository_id = $1
		ORDER BY updated_at DESC NULLS LAST, id DESC
		LIMIT $2 OFFSET $3`, repoID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []model.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, i)
	}
	return issues, rows.Err()
}

// CountIssuesByRepository returns the number of stored rows for a repository,
// split by kind.
func (s *Store) CountIssuesByRepository(ctx context.Context, repoID int64, pullRequest bool) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM issues WHERE repository_id = $1 AND pull_request = $2`,
		repoID, pullRequest).Scan(&n)
	return n, err
}
