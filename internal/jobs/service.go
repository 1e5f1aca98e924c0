// internal/jobs/service.go
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	custom_errors "forge-issues/internal/errors"
	"forge-issues/internal/model"
	"forge-issues/internal/repometa"
	"forge-issues/internal/syncer"
)

const (
	// Finished jobs older than this are deleted by the cleanup loop.
	jobRetention = 24 * time.Hour

	cleanupInterval = time.Hour
)

// Store is the persistence surface the job service needs.
type Store interface {
	CreateJob(ctx context.Context, id, url, ip string) (model.Job, error)
	GetJob(ctx context.Context, id string) (model.Job, error)
	MarkJobQueued(ctx context.Context, id, queueMsgID string) error
	UpdateJobStatus(ctx context.Context, id, status string) error
	FinishJob(ctx context.Context, id, status string, results []byte) error
	CleanupJobs(ctx context.Context, before time.Time) (int64, error)
	GetHostByName(ctx context.Context, name string) (model.Host, error)
	GetRepository(ctx context.Context, hostID int64, fullName string) (model.Repository, error)
	CreateRepository(ctx context.Context, hostID int64, fullName string) (model.Repository, error)
}

// Performer runs the actual repository sync for a resolved repository id.
type Performer interface {
	Sync(ctx context.Context, repoID int64) (*syncer.Result, error)
}

// Service accepts sync requests for arbitrary repository URLs, dispatches
// them through the queue, and performs them on the worker side. The job row
// is the only status contract callers see.
type Service struct {
	store     Store
	queue     Queue
	repoMeta  *repometa.Client
	performer Performer
	logger    *slog.Logger
}

// NewService creates the job service.
func NewService(store Store, queue Queue, repoMeta *repometa.Client, performer Performer, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		queue:     queue,
		repoMeta:  repoMeta,
		performer: performer,
		logger:    logger,
	}
}

// EnqueueSync records a sync request and publishes it. The returned job is in
// status queued on success. A failed publish finishes the job as error right
// away; nothing re-enqueues a pending job, so leaving it pending would hand
// the caller a job that can never progress.
func (s *Service) EnqueueSync(ctx context.Context, repoURL, ip string, priority bool) (model.Job, error) {
	job, err := s.store.CreateJob(ctx, uuid.NewString(), repoURL, ip)
	if err != nil {
		return model.Job{}, fmt.Errorf("creating job: %w", err)
	}

	msgID, err := s.queue.Publish(job.ID, priority)
	if err != nil {
		s.logger.Error("Failed to publish job", "job_id", job.ID, "error", err)
		if finErr := s.finishWithError(ctx, job.ID, fmt.Errorf("dispatching sync job: %w", err)); finErr != nil {
			return model.Job{}, finErr
		}
		job.Status = model.JobStatusError
		return job, nil
	}
	if err := s.store.MarkJobQueued(ctx, job.ID, msgID); err != nil {
		return model.Job{}, err
	}
	job.Status = model.JobStatusQueued
	job.QueueMsgID = &msgID
	return job, nil
}

// GetJob returns the current state of a job.
func (s *Service) GetJob(ctx context.Context, id string) (model.Job, error) {
	return s.store.GetJob(ctx, id)
}

// Perform executes one queued job: resolve the URL through the directory,
// find or create the repository row, run the sync, and record the outcome on
// the job. All failure modes end in status=error with a message; Perform only
// returns an error when even that write fails.
func (s *Service) Perform(ctx context.Context, jobID string) error {
	logger := s.logger.With("job_id", jobID)

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			logger.Warn("Dropping delivery for unknown job")
			return nil
		}
		return err
	}
	if job.Finished() {
		logger.Info("Skipping already-finished job", "status", job.Status)
		return nil
	}
	if err := s.store.UpdateJobStatus(ctx, jobID, model.JobStatusWorking); err != nil {
		return err
	}
	logger.Info("Performing sync job", "url", job.URL)

	result, err := s.resolveAndSync(ctx, job.URL)
	if err != nil {
		logger.Warn("Sync job failed", "url", job.URL, "error", err)
		return s.finishWithError(ctx, jobID, err)
	}

	payload, err := json.Marshal(map[string]any{
		"full_name":     result.Repository.FullName,
		"created_count": result.Created,
		"updated_count": result.Updated,
	})
	if err != nil {
		return s.finishWithError(ctx, jobID, err)
	}
	logger.Info("Sync job complete", "created", result.Created, "updated", result.Updated)
	return s.store.FinishJob(ctx, jobID, model.JobStatusComplete, payload)
}

func (s *Service) resolveAndSync(ctx context.Context, repoURL string) (*syncer.Result, error) {
	lookup, err := s.repoMeta.Lookup(ctx, repoURL)
	if err != nil {
		if custom_errors.IsMissing(err) {
			return nil, fmt.Errorf("repository not found: %s", repoURL)
		}
		return nil, fmt.Errorf("looking up %s: %w", repoURL, err)
	}

	host, err := s.store.GetHostByName(ctx, lookup.Host.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("unknown host: %s", lookup.Host.Name)
		}
		return nil, err
	}

	repo, err := s.store.GetRepository(ctx, host.ID, lookup.FullName)
	if errors.Is(err, pgx.ErrNoRows) {
		repo, err = s.store.CreateRepository(ctx, host.ID, lookup.FullName)
	}
	if err != nil {
		return nil, err
	}

	return s.performer.Sync(ctx, repo.ID)
}

func (s *Service) finishWithError(ctx context.Context, jobID string, cause error) error {
	payload, _ := json.Marshal(map[string]string{"error": cause.Error()})
	return s.store.FinishJob(ctx, jobID, model.JobStatusError, payload)
}

// Start subscribes the worker to the queue and runs the cleanup loop until
// the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	err := s.queue.Subscribe(func(jobID string) {
		if err := s.Perform(ctx, jobID); err != nil {
			s.logger.Error("Job execution failed", "job_id", jobID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to job queue: %w", err)
	}
	s.logger.Info("Job worker started")

	go s.cleanupLoop(ctx)
	return nil
}

// cleanupLoop periodically deletes finished jobs past the retention window.
func (s *Service) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deleted, err := s.store.CleanupJobs(ctx, time.Now().Add(-jobRetention))
			if err != nil {
				s.logger.Error("Job cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				s.logger.Info("Cleaned up finished jobs", "deleted", deleted)
			}
		case <-ctx.Done():
			return
		}
	}
}
