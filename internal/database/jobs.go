// internal/database/jobs.go
package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"forge-issues/internal/model"
)

const jobColumns = `id, url, status, ip, queue_msg_id, results, created_at, updated_at`

func scanJob(row pgx.Row) (model.Job, error) {
	var j model.Job
	err := row.Scan(&j.ID, &j.URL, &j.Status, &j.IP, &j.QueueMsgID, &j.Results,
		&j.CreatedAt, &j.UpdatedAt)
	return j, err
}

// CreateJob records a pending sync request.
func (s *Store) CreateJob(ctx context.Context, id, url, ip string) (model.Job, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO jobs (id, url, status, ip)
		VALUES ($1, $2, $3, $4)
		RETURNING `+jobColumns,
		id, url, model.JobStatusPending, ip)
	return scanJob(row)
}

// GetJob returns one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (model.Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// MarkJobQueued stores the queue message id after a successful publish.
func (s *Store) MarkJobQueued(ctx context.Context, id, queueMsgID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = $2, queue_msg_id = $3, updated_at = now()
		WHERE id = $1`, id, model.JobStatusQueued, queueMsgID)
	return err
}

// UpdateJobStatus transitions a job without touching its results.
func (s *Store) UpdateJobStatus(ctx context.Context, id, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE jobs SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}

// FinishJob writes the terminal status and the result payload.
func (s *Store) FinishJob(ctx context.Context, id, status string, results []byte) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = $2, results = $3, updated_at = now()
		WHERE id = $1`, id, status, results)
	return err
}

// CleanupJobs deletes finished jobs older than the cutoff.
func (s *Store) CleanupJobs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ($1, $2) AND created_at < $3`,
		model.JobStatusComplete, model.JobStatusError, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetOwner returns the visibility record for a login, if any.
func (s *Store) GetOwner(ctx context.Context, hostID int64, login string) (model.Owner, error) {
	var o model.Owner
	err := s.db.QueryRow(ctx, `
		SELECT id, host_id, login, hidden, created_at, updated_at
		FROM owners WHERE host_id = $1 AND lower(login) = lower($2)`,
		hostID, login).Scan(&o.ID, &o.HostID, &o.Login, &o.Hidden, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// SetOwnerHidden creates or updates the per-host visibility flag for a login.
// Ingestion never consults this; it only affects read-time aggregate views.
func (s *Store) SetOwnerHidden(ctx context.Context, hostID int64, login string, hidden bool) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO owners (host_id, login, hidden)
		VALUES ($1, $2, $3)
		ON CONFLICT (host_id, lower(login)) DO UPDATE SET
			hidden = EXCLUDED.hidden,
			updated_at = now()`,
		hostID, login, hidden)
	return err
}
