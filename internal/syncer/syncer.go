// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	custom_errors "forge-issues/internal/errors"
	"forge-issues/internal/hosts"
	"forge-issues/internal/model"
	"forge-issues/internal/repometa"
)

const (
	// Number of repositories to sync in parallel during a sweep
	concurrency = 5
)

// Store is the persistence surface the sync engine needs.
type Store interface {
	GetHostByID(ctx context.Context, id int64) (model.Host, error)
	ListHosts(ctx context.Context) ([]model.Host, error)
	UpsertHost(ctx context.Context, name, url, kind string, iconURL *string) (model.Host, error)
	UpdateHostCounts(ctx context.Context, hostID int64) error
	GetRepositoryByID(ctx context.Context, id int64) (model.Repository, error)
	BulkUpsertIssues(ctx context.Context, issues []model.Issue) (created, updated int64, err error)
	RecomputeRepositoryCounts(ctx context.Context, repoID int64) error
	UpdateRepositorySyncState(ctx context.Context, id int64, status *string, lastSyncedAt time.Time) error
	UpdateRepositoryDetails(ctx context.Context, id int64, status, defaultBranch *string) error
	ListLeastRecentlySynced(ctx context.Context, limit int) ([]model.Repository, error)
	UpsertRepositories(ctx context.Context, hostID int64, fullNames []string) (map[string]int64, error)
}

// AdapterResolver resolves a host adapter for a host kind.
type AdapterResolver interface {
	ForKind(kind string) (hosts.Adapter, error)
}

// Result summarizes one sync invocation.
type Result struct {
	Repository model.Repository `json:"repository"`
	Created    int64            `json:"created_count"`
	Updated    int64            `json:"updated_count"`
}

// Syncer orchestrates per-repository issue synchronization and the scheduled
// sweep over the least recently synced repositories.
type Syncer struct {
	store        Store
	adapters     AdapterResolver
	repoMeta     *repometa.Client
	logger       *slog.Logger
	sweepLimit   int
	syncInterval time.Duration
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(store Store, adapters AdapterResolver, repoMeta *repometa.Client, logger *slog.Logger, sweepLimit int, interval time.Duration) *Syncer {
	return &Syncer{
		store:        store,
		adapters:     adapters,
		repoMeta:     repoMeta,
		logger:       logger,
		sweepLimit:   sweepLimit,
		syncInterval: interval,
	}
}

// Sync fetches, normalizes and upserts all issues of one repository, then
// recomputes its aggregate counters.
//
// A repository already marked not_found is refused without any outbound call;
// that classification is sticky until manually cleared. Upstream confirming
// absence mid-sync persists not_found. Any other failure persists
// status=error (soft-terminal: excluded from sweeps but directly retryable)
// and is returned to the caller rather than panicking; partial progress stays
// in place and is idempotent to resume.
func (s *Syncer) Sync(ctx context.Context, repoID int64) (*Result, error) {
	repo, err := s.store.GetRepositoryByID(ctx, repoID)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("repo", repo.FullName, "repo_id", repo.ID)

	if repo.Status != nil && *repo.Status == model.RepoStatusNotFound {
		return nil, fmt.Errorf("%w: %s", custom_errors.ErrRepositoryNotFoundStatus, repo.FullName)
	}

	host, err := s.store.GetHostByID(ctx, repo.HostID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapters.ForKind(host.Kind)
	if err != nil {
		return nil, err
	}

	since := repo.LastSyncedAt
	if since != nil {
		logger.Info("Syncing repository incrementally", "since", since.Format(time.RFC3339))
	} else {
		logger.Info("Syncing repository", "mode", "full")
	}

	result := &Result{}
	fetchErr := adapter.FetchIssues(ctx, &host, &repo, since, func(ctx context.Context, batch []model.Issue) error {
		if len(batch) == 0 {
			return nil
		}
		created, updated, err := s.store.BulkUpsertIssues(ctx, batch)
		if err != nil {
			return err
		}
		result.Created += created
		result.Updated += updated
		logger.Debug("Upserted batch", "size", len(batch), "created", created, "updated", updated)
		return nil
	})

	if fetchErr != nil {
		switch {
		case custom_errors.IsMissing(fetchErr):
			logger.Info("Repository confirmed missing upstream, marking not_found")
			return nil, s.markTerminal(ctx, repo.ID, model.RepoStatusNotFound, fetchErr)
		case custom_errors.IsIgnorable(fetchErr):
			// Transient upstream noise: no data this call, not a broken repo.
			logger.Warn("Ignorable host error during sync", "error", fetchErr)
		case errors.Is(fetchErr, context.Canceled):
			return nil, fetchErr
		default:
			logger.Error("Sync failed", "error", fetchErr)
			return nil, s.markTerminal(ctx, repo.ID, model.RepoStatusError, fetchErr)
		}
	}

	if err := s.store.RecomputeRepositoryCounts(ctx, repo.ID); err != nil {
		logger.Error("Counter recompute failed", "error", err)
		return nil, s.markTerminal(ctx, repo.ID, model.RepoStatusError, err)
	}
	if err := s.store.UpdateRepositorySyncState(ctx, repo.ID, nil, time.Now()); err != nil {
		return nil, err
	}

	updated, err := s.store.GetRepositoryByID(ctx, repo.ID)
	if err == nil {
		result.Repository = updated
	}
	logger.Info("Sync complete", "created", result.Created, "updated", result.Updated)
	return result, nil
}

// markTerminal persists a terminal status plus the attempt timestamp and
// returns an error carrying the original cause.
func (s *Syncer) markTerminal(ctx context.Context, repoID int64, status string, cause error) error {
	if err := s.store.UpdateRepositorySyncState(ctx, repoID, &status, time.Now()); err != nil {
		return errors.Join(cause, err)
	}
	return fmt.Errorf("repository marked %s: %w", status, cause)
}

// SyncDetails refreshes directory metadata for a repository. A 404 from the
// directory is the authoritative missing signal and flips status=not_found.
func (s *Syncer) SyncDetails(ctx context.Context, repo *model.Repository) error {
	host, err := s.store.GetHostByID(ctx, repo.HostID)
	if err != nil {
		return err
	}
	meta, err := s.repoMeta.RepositoryMetadata(ctx, host.Name, repo.FullName)
	if err != nil {
		if custom_errors.IsMissing(err) {
			status := model.RepoStatusNotFound
			return s.store.UpdateRepositoryDetails(ctx, repo.ID, &status, repo.DefaultBranch)
		}
		// Directory hiccups never mark the repository broken.
		s.logger.Warn("Repository metadata lookup failed", "repo", repo.FullName, "error", err)
		return nil
	}
	return s.store.UpdateRepositoryDetails(ctx, repo.ID, meta.Status, meta.DefaultBranch)
}

// SyncHosts refreshes the host table from the upstream directory. Unknown
// hosts are added; existing rows pick up icon and kind changes.
func (s *Syncer) SyncHosts(ctx context.Context) error {
	if s.repoMeta == nil {
		return nil
	}
	infos, err := s.repoMeta.ListHosts(ctx)
	if err != nil {
		return fmt.Errorf("listing directory hosts: %w", err)
	}
	for _, info := range infos {
		host, err := s.store.UpsertHost(ctx, info.Name, info.URL, info.Kind, info.IconURL)
		if err != nil {
			s.logger.Error("Failed to upsert host", "host", info.Name, "error", err)
			continue
		}
		s.discoverRepositories(ctx, &host)
	}
	s.logger.Info("Host directory synced", "hosts", len(infos))
	return nil
}

// discoverRepositories seeds repository rows from the directory's
// recently-updated feed so the sweep picks them up. Best effort.
func (s *Syncer) discoverRepositories(ctx context.Context, host *model.Host) {
	recent, err := s.repoMeta.ListRecentRepositories(ctx, host.Name)
	if err != nil {
		s.logger.Warn("Failed to list recent repositories", "host", host.Name, "error", err)
		return
	}
	names := make([]string, 0, len(recent))
	for _, r := range recent {
		if r.FullName != "" {
			names = append(names, r.FullName)
		}
	}
	if len(names) == 0 {
		return
	}
	if _, err := s.store.UpsertRepositories(ctx, host.ID, names); err != nil {
		s.logger.Error("Failed to seed discovered repositories", "host", host.Name, "error", err)
	}
}

// updateHostCounts refreshes the per-host rollups after a sweep.
func (s *Syncer) updateHostCounts(ctx context.Context) {
	hosts, err := s.store.ListHosts(ctx)
	if err != nil {
		s.logger.Error("Failed to list hosts for count update", "error", err)
		return
	}
	for _, host := range hosts {
		if err := s.store.UpdateHostCounts(ctx, host.ID); err != nil {
			s.logger.Error("Failed to update host counts", "host", host.Name, "error", err)
		}
	}
}

// Start begins the continuous sweep over the least recently synced
// repositories.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting syncer", "interval", s.syncInterval.String(), "concurrency", concurrency)
	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	s.runSweep(ctx) // Initial sweep

	for {
		select {
		case <-ticker.C:
			if err := s.SyncHosts(ctx); err != nil {
				s.logger.Error("Host directory sync failed", "error", err)
			}
			s.runSweep(ctx)
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			return
		}
	}
}

// runSweep syncs the stalest active repositories concurrently. Failures are
// recorded on the repository rows and logged; the sweep itself never fails.
func (s *Syncer) runSweep(ctx context.Context) {
	repos, err := s.store.ListLeastRecentlySynced(ctx, s.sweepLimit)
	if err != nil {
		s.logger.Error("Failed to list repositories for sweep", "error", err)
		return
	}
	if len(repos) == 0 {
		return
	}
	s.logger.Info("Starting sweep", "repositories", len(repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, repo := range repos {
		repo := repo
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if _, err := s.Sync(gctx, repo.ID); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Error("Failed to sync repository", "repo", repo.FullName, "error", err)
				}
				return nil
			}
			if s.repoMeta != nil {
				if err := s.SyncDetails(gctx, &repo); err != nil {
					s.logger.Warn("Failed to sync repository details", "repo", repo.FullName, "error", err)
				}
			}
			return nil
		})
	}

	_ = g.Wait()
	s.updateHostCounts(ctx)
	s.logger.Info("Sweep finished")
}
