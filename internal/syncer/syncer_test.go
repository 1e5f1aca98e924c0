// internal/syncer/syncer_test.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	custom_errors "forge-issues/internal/errors"
	"forge-issues/internal/hosts"
	"forge-issues/internal/model"
)

// MockStore is a mock of the Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetHostByID(ctx context.Context, id int64) (model.Host, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Host), args.Error(1)
}
func (m *MockStore) ListHosts(ctx context.Context) ([]model.Host, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.Host), args.Error(1)
}
func (m *MockStore) UpsertHost(ctx context.Context, name, url, kind string, iconURL *string) (model.Host, error) {
	args := m.Called(ctx, name, url, kind, iconURL)
	return args.Get(0).(model.Host), args.Error(1)
}
func (m *MockStore) UpdateHostCounts(ctx context.Context, hostID int64) error {
	args := m.Called(ctx, hostID)
	return args.Error(0)
}
func (m *MockStore) GetRepositoryByID(ctx context.Context, id int64) (model.Repository, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Repository), args.Error(1)
}
func (m *MockStore) BulkUpsertIssues(ctx context.Context, issues []model.Issue) (int64, int64, error) {
	args := m.Called(ctx, issues)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}
func (m *MockStore) RecomputeRepositoryCounts(ctx context.Context, repoID int64) error {
	args := m.Called(ctx, repoID)
	return args.Error(0)
}
func (m *MockStore) UpdateRepositorySyncState(ctx context.Context, id int64, status *string, lastSyncedAt time.Time) error {
	args := m.Called(ctx, id, status, lastSyncedAt)
	return args.Error(0)
}
func (m *MockStore) UpdateRepositoryDetails(ctx context.Context, id int64, status, defaultBranch *string) error {
	args := m.Called(ctx, id, status, defaultBranch)
	return args.Error(0)
}
func (m *MockStore) ListLeastRecentlySynced(ctx context.Context, limit int) ([]model.Repository, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.Repository), args.Error(1)
}
func (m *MockStore) UpsertRepositories(ctx context.Context, hostID int64, fullNames []string) (map[string]int64, error) {
	args := m.Called(ctx, hostID, fullNames)
	return args.Get(0).(map[string]int64), args.Error(1)
}

// mockAdapter records fetch invocations and replays a scripted outcome.
type mockAdapter struct {
	calls   int
	batches [][]model.Issue
	err     error
}

func (a *mockAdapter) FetchIssues(ctx context.Context, host *model.Host, repo *model.Repository, since *time.Time, emit hosts.BatchFunc) error {
	a.calls++
	for _, b := range a.batches {
		if err := emit(ctx, b); err != nil {
			return err
		}
	}
	return a.err
}

type mockResolver struct {
	adapter hosts.Adapter
}

func (r *mockResolver) ForKind(kind string) (hosts.Adapter, error) {
	return r.adapter, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func activeRepo() model.Repository {
	return model.Repository{ID: 7, HostID: 1, FullName: "rails/rails", Owner: "rails"}
}

func TestSyncer_Sync(t *testing.T) {
	ctx := context.Background()
	host := model.Host{ID: 1, Name: "GitHub", URL: "https://github.com", Kind: model.KindGitHub}

	t.Run("happy path upserts batches and recomputes counts", func(t *testing.T) {
		store := new(MockStore)
		adapter := &mockAdapter{batches: [][]model.Issue{
			{{HostID: 1, UUID: "1"}, {HostID: 1, UUID: "2"}},
			{{HostID: 1, UUID: "3"}},
		}}
		s := NewSyncer(store, &mockResolver{adapter}, nil, testLogger(), 10, time.Hour)

		repo := activeRepo()
		store.On("GetRepositoryByID", ctx, repo.ID).Return(repo, nil).Once()
		store.On("GetHostByID", ctx, host.ID).Return(host, nil).Once()
		store.On("BulkUpsertIssues", ctx, mock.Anything).Return(int64(2), int64(0), nil).Once()
		store.On("BulkUpsertIssues", ctx, mock.Anything).Return(int64(0), int64(1), nil).Once()
		store.On("RecomputeRepositoryCounts", ctx, repo.ID).Return(nil).Once()
		store.On("UpdateRepositorySyncState", ctx, repo.ID, (*string)(nil), mock.AnythingOfType("time.Time")).Return(nil).Once()
		store.On("GetRepositoryByID", ctx, repo.ID).Return(repo, nil).Once()

		result, err := s.Sync(ctx, repo.ID)

		require.NoError(t, err)
		assert.Equal(t, int64(2), result.Created)
		assert.Equal(t, int64(1), result.Updated)
		assert.Equal(t, 1, adapter.calls)
		store.AssertExpectations(t)
	})

	t.Run("sticky not_found refuses without touching the host", func(t *testing.T) {
		store := new(MockStore)
		adapter := &mockAdapter{}
		s := NewSyncer(store, &mockResolver{adapter}, nil, testLogger(), 10, time.Hour)

		repo := activeRepo()
		status := model.RepoStatusNotFound
		repo.Status = &status
		store.On("GetRepositoryByID", ctx, repo.ID).Return(repo, nil).Once()

		_, err := s.Sync(ctx, repo.ID)

		assert.ErrorIs(t, err, custom_errors.ErrRepositoryNotFoundStatus)
		assert.Zero(t, adapter.calls, "no outbound call for a not_found repository")
		store.AssertNotCalled(t, "GetHostByID")
		store.AssertExpectations(t)
	})

	t.Run("upstream missing marks not_found", func(t *testing.T) {
		store := new(MockStore)
		adapter := &mockAdapter{err: custom_errors.ErrRepositoryMissing}
		s := NewSyncer(store, &mockResolver{adapter}, nil, testLogger(), 10, time.Hour)

		repo := activeRepo()
		status := model.RepoStatusNotFound
		store.On("GetRepositoryByID", ctx, repo.ID).Return(repo, nil).Once()
		store.On("GetHostByID", ctx, host.ID).Return(host, nil).Once()
		store.On("UpdateRepositorySyncState", ctx, repo.ID, &status, mock.AnythingOfType("time.Time")).Return(nil).Once()

		_, err := s.Sync(ctx, repo.ID)

		require.Error(t, err)
		assert.ErrorIs(t, err, custom_errors.ErrRepositoryMissing)
		store.AssertNotCalled(t, "RecomputeRepositoryCounts")
		store.AssertExpectations(t)
	})

	t.Run("ignorable host error still recomputes and stamps the sync", func(t *testing.T) {
		store := new(MockStore)
		adapter := &mockAdapter{err: &custom_errors.IgnorableHostError{Status: 403, Err: errors.New("rate limited")}}
		s := NewSyncer(store, &mockResolver{adapter}, nil, testLogger(), 10, time.Hour)

		repo := activeRepo()
		store.On("GetRepositoryByID", ctx, repo.ID).Return(repo, nil).Once()
		store.On("GetHostByID", ctx, host.ID).Return(host, nil).Once()
		store.On("RecomputeRepositoryCounts", ctx, repo.ID).Return(nil).Once()
		store.On("UpdateRepositorySyncState", ctx, repo.ID, (*string)(nil), mock.AnythingOfType("time.Time")).Return(nil).Once()
		store.On("GetRepositoryByID", ctx, repo.ID).Return(repo, nil).Once()

		result, err := s.Sync(ctx, repo.ID)

		require.NoError(t, err)
		assert.Zero(t, result.Created)
		store.AssertExpectations(t)
	})

	t.Run("unexpected failure marks error", func(t *testing.T) {
		store := new(MockStore)
		boom := errors.New("connection reset")
		adapter := &mockAdapter{err: boom}
		s := NewSyncer(store, &mockResolver{adapter}, nil, testLogger(), 10, time.Hour)

		repo := activeRepo()
		status := model.RepoStatusError
		store.On("GetRepositoryByID", ctx, repo.ID).Return(repo, nil).Once()
		store.On("GetHostByID", ctx, host.ID).Return(host, nil).Once()
		store.On("UpdateRepositorySyncState", ctx, repo.ID, &status, mock.AnythingOfType("time.Time")).Return(nil).Once()

		_, err := s.Sync(ctx, repo.ID)

		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		store.AssertNotCalled(t, "RecomputeRepositoryCounts")
		store.AssertExpectations(t)
	})

	t.Run("counter recompute failure marks error", func(t *testing.T) {
		store := new(MockStore)
		adapter := &mockAdapter{}
		s := NewSyncer(store, &mockResolver{adapter}, nil, testLogger(), 10, time.Hour)

		repo := activeRepo()
		status := model.RepoStatusError
		boom := errors.New("deadlock detected")
		store.On("GetRepositoryByID", ctx, repo.ID).Return(repo, nil).Once()
		store.On("GetHostByID", ctx, host.ID).Return(host, nil).Once()
		store.On("RecomputeRepositoryCounts", ctx, repo.ID).Return(boom).Once()
		store.On("UpdateRepositorySyncState", ctx, repo.ID, &status, mock.AnythingOfType("time.Time")).Return(nil).Once()

		_, err := s.Sync(ctx, repo.ID)

		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		store.AssertExpectations(t)
	})

	t.Run("incremental sync passes last_synced_at through", func(t *testing.T) {
		store := new(MockStore)
		var gotSince *time.Time
		adapter := &sinceRecordingAdapter{since: &gotSince}
		s := NewSyncer(store, &mockResolver{adapter}, nil, testLogger(), 10, time.Hour)

		repo := activeRepo()
		last := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		repo.LastSyncedAt = &last
		store.On("GetRepositoryByID", ctx, repo.ID).Return(repo, nil).Once()
		store.On("GetHostByID", ctx, host.ID).Return(host, nil).Once()
		store.On("RecomputeRepositoryCounts", ctx, repo.ID).Return(nil).Once()
		store.On("UpdateRepositorySyncState", ctx, repo.ID, (*string)(nil), mock.AnythingOfType("time.Time")).Return(nil).Once()
		store.On("GetRepositoryByID", ctx, repo.ID).Return(repo, nil).Once()

		_, err := s.Sync(ctx, repo.ID)

		require.NoError(t, err)
		require.NotNil(t, gotSince)
		assert.True(t, gotSince.Equal(last))
		store.AssertExpectations(t)
	})
}

// sinceRecordingAdapter captures the since parameter of the fetch.
type sinceRecordingAdapter struct {
	since **time.Time
}

func (a *sinceRecordingAdapter) FetchIssues(ctx context.Context, host *model.Host, repo *model.Repository, since *time.Time, emit hosts.BatchFunc) error {
	*a.since = since
	return nil
}
