// internal/jobs/service_test.go
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"forge-issues/internal/model"
	"forge-issues/internal/repometa"
	"forge-issues/internal/syncer"
)

// MockStore is a mock of the Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateJob(ctx context.Context, id, url, ip string) (model.Job, error) {
	args := m.Called(ctx, id, url, ip)
	return args.Get(0).(model.Job), args.Error(1)
}
func (m *MockStore) GetJob(ctx context.Context, id string) (model.Job, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Job), args.Error(1)
}
func (m *MockStore) MarkJobQueued(ctx context.Context, id, queueMsgID string) error {
	args := m.Called(ctx, id, queueMsgID)
	return args.Error(0)
}
func (m *MockStore) UpdateJobStatus(ctx context.Context, id, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}
func (m *MockStore) FinishJob(ctx context.Context, id, status string, results []byte) error {
	args := m.Called(ctx, id, status, results)
	return args.Error(0)
}
func (m *MockStore) CleanupJobs(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockStore) GetHostByName(ctx context.Context, name string) (model.Host, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(model.Host), args.Error(1)
}
func (m *MockStore) GetRepository(ctx context.Context, hostID int64, fullName string) (model.Repository, error) {
	args := m.Called(ctx, hostID, fullName)
	return args.Get(0).(model.Repository), args.Error(1)
}
func (m *MockStore) CreateRepository(ctx context.Context, hostID int64, fullName string) (model.Repository, error) {
	args := m.Called(ctx, hostID, fullName)
	return args.Get(0).(model.Repository), args.Error(1)
}

// mockQueue records publishes without a broker.
type mockQueue struct {
	published []struct {
		jobID    string
		priority bool
	}
	publishErr error
}

func (q *mockQueue) Publish(jobID string, priority bool) (string, error) {
	if q.publishErr != nil {
		return "", q.publishErr
	}
	q.published = append(q.published, struct {
		jobID    string
		priority bool
	}{jobID, priority})
	return "msg-1", nil
}
func (q *mockQueue) Subscribe(handler func(jobID string)) error { return nil }
func (q *mockQueue) Close()                                     {}

// mockPerformer replays a scripted sync outcome.
type mockPerformer struct {
	result *syncer.Result
	err    error
	calls  []int64
}

func (p *mockPerformer) Sync(ctx context.Context, repoID int64) (*syncer.Result, error) {
	p.calls = append(p.calls, repoID)
	return p.result, p.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// directoryServer fakes the repository-directory lookup endpoint.
func directoryServer(t *testing.T, status int, body string) *repometa.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/repositories/lookup", r.URL.Path)
		w.WriteHeader(status)
		fmt.Fprintln(w, body)
	}))
	t.Cleanup(server.Close)
	return repometa.New(server.URL, 5*time.Second, testLogger())
}

func TestService_EnqueueSync(t *testing.T) {
	ctx := context.Background()

	t.Run("creates, publishes and marks queued", func(t *testing.T) {
		store := new(MockStore)
		queue := &mockQueue{}
		s := NewService(store, queue, nil, nil, testLogger())

		store.On("CreateJob", ctx, mock.AnythingOfType("string"), "https://github.com/rails/rails", "1.2.3.4").
			Return(model.Job{ID: "job-1", URL: "https://github.com/rails/rails", Status: model.JobStatusPending}, nil).Once()
		store.On("MarkJobQueued", ctx, "job-1", "msg-1").Return(nil).Once()

		job, err := s.EnqueueSync(ctx, "https://github.com/rails/rails", "1.2.3.4", true)

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusQueued, job.Status)
		require.Len(t, queue.published, 1)
		assert.Equal(t, "job-1", queue.published[0].jobID)
		assert.True(t, queue.published[0].priority)
		store.AssertExpectations(t)
	})

	t.Run("publish failure finishes the job as error", func(t *testing.T) {
		store := new(MockStore)
		queue := &mockQueue{publishErr: errors.New("broker down")}
		s := NewService(store, queue, nil, nil, testLogger())

		store.On("CreateJob", ctx, mock.Anything, mock.Anything, mock.Anything).
			Return(model.Job{ID: "job-1", Status: model.JobStatusPending}, nil).Once()

		var results []byte
		store.On("FinishJob", ctx, "job-1", model.JobStatusError, mock.Anything).
			Run(func(args mock.Arguments) { results = args.Get(3).([]byte) }).Return(nil).Once()

		job, err := s.EnqueueSync(ctx, "https://github.com/rails/rails", "1.2.3.4", false)

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusError, job.Status)
		assert.False(t, job.InProgress())

		var payload map[string]string
		require.NoError(t, json.Unmarshal(results, &payload))
		assert.Contains(t, payload["error"], "broker down")
		store.AssertNotCalled(t, "MarkJobQueued")
		store.AssertExpectations(t)
	})
}

func TestService_Perform(t *testing.T) {
	ctx := context.Background()
	queuedJob := model.Job{ID: "job-1", URL: "https://github.com/rails/rails", Status: model.JobStatusQueued}

	t.Run("happy path finishes complete with results", func(t *testing.T) {
		repoMeta := directoryServer(t, http.StatusOK,
			`{"host": {"name": "GitHub"}, "full_name": "rails/rails", "owner": "rails"}`)
		store := new(MockStore)
		performer := &mockPerformer{result: &syncer.Result{
			Repository: model.Repository{ID: 42, FullName: "rails/rails"},
			Created:    3,
			Updated:    7,
		}}
		s := NewService(store, &mockQueue{}, repoMeta, performer, testLogger())

		store.On("GetJob", ctx, "job-1").Return(queuedJob, nil).Once()
		store.On("UpdateJobStatus", ctx, "job-1", model.JobStatusWorking).Return(nil).Once()
		store.On("GetHostByName", ctx, "GitHub").Return(model.Host{ID: 1, Name: "GitHub"}, nil).Once()
		store.On("GetRepository", ctx, int64(1), "rails/rails").
			Return(model.Repository{ID: 42, FullName: "rails/rails"}, nil).Once()

		var results []byte
		store.On("FinishJob", ctx, "job-1", model.JobStatusComplete, mock.Anything).
			Run(func(args mock.Arguments) { results = args.Get(3).([]byte) }).Return(nil).Once()

		require.NoError(t, s.Perform(ctx, "job-1"))

		assert.Equal(t, []int64{42}, performer.calls)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(results, &payload))
		assert.Equal(t, "rails/rails", payload["full_name"])
		assert.Equal(t, float64(3), payload["created_count"])
		assert.Equal(t, float64(7), payload["updated_count"])
		store.AssertNotCalled(t, "CreateRepository")
		store.AssertExpectations(t)
	})

	t.Run("creates the repository when unknown", func(t *testing.T) {
		repoMeta := directoryServer(t, http.StatusOK,
			`{"host": {"name": "GitHub"}, "full_name": "new/repo", "owner": "new"}`)
		store := new(MockStore)
		performer := &mockPerformer{result: &syncer.Result{}}
		s := NewService(store, &mockQueue{}, repoMeta, performer, testLogger())

		store.On("GetJob", ctx, "job-1").Return(queuedJob, nil).Once()
		store.On("UpdateJobStatus", ctx, "job-1", model.JobStatusWorking).Return(nil).Once()
		store.On("GetHostByName", ctx, "GitHub").Return(model.Host{ID: 1, Name: "GitHub"}, nil).Once()
		store.On("GetRepository", ctx, int64(1), "new/repo").Return(model.Repository{}, pgx.ErrNoRows).Once()
		store.On("CreateRepository", ctx, int64(1), "new/repo").
			Return(model.Repository{ID: 99, FullName: "new/repo"}, nil).Once()
		store.On("FinishJob", ctx, "job-1", model.JobStatusComplete, mock.Anything).Return(nil).Once()

		require.NoError(t, s.Perform(ctx, "job-1"))
		assert.Equal(t, []int64{99}, performer.calls)
		store.AssertExpectations(t)
	})

	t.Run("directory 404 finishes with an error payload", func(t *testing.T) {
		repoMeta := directoryServer(t, http.StatusNotFound, `{}`)
		store := new(MockStore)
		s := NewService(store, &mockQueue{}, repoMeta, &mockPerformer{}, testLogger())

		store.On("GetJob", ctx, "job-1").Return(queuedJob, nil).Once()
		store.On("UpdateJobStatus", ctx, "job-1", model.JobStatusWorking).Return(nil).Once()

		var results []byte
		store.On("FinishJob", ctx, "job-1", model.JobStatusError, mock.Anything).
			Run(func(args mock.Arguments) { results = args.Get(3).([]byte) }).Return(nil).Once()

		require.NoError(t, s.Perform(ctx, "job-1"))

		var payload map[string]string
		require.NoError(t, json.Unmarshal(results, &payload))
		assert.Contains(t, payload["error"], "repository not found")
		store.AssertExpectations(t)
	})

	t.Run("unknown job delivery is dropped", func(t *testing.T) {
		store := new(MockStore)
		s := NewService(store, &mockQueue{}, nil, nil, testLogger())

		store.On("GetJob", ctx, "ghost").Return(model.Job{}, pgx.ErrNoRows).Once()

		require.NoError(t, s.Perform(ctx, "ghost"))
		store.AssertNotCalled(t, "UpdateJobStatus")
		store.AssertExpectations(t)
	})

	t.Run("finished job is not re-run", func(t *testing.T) {
		store := new(MockStore)
		s := NewService(store, &mockQueue{}, nil, nil, testLogger())

		done := model.Job{ID: "job-1", Status: model.JobStatusComplete}
		store.On("GetJob", ctx, "job-1").Return(done, nil).Once()

		require.NoError(t, s.Perform(ctx, "job-1"))
		store.AssertNotCalled(t, "UpdateJobStatus")
		store.AssertExpectations(t)
	})
}
