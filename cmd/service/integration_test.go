//go:build integration

// cmd/service/integration_test.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"forge-issues/internal/database"
	"forge-issues/internal/hosts"
	"forge-issues/internal/model"
	"forge-issues/internal/syncer"
)

func setupTestDatabase(ctx context.Context, t *testing.T) (*pgxpool.Pool, func()) {
	// Start a postgres container
	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second),
		),
	)
	require.NoError(t, err)

	// Get the connection string
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	m, err := migrate.New("file://../../migrations", connStr)
	require.NoError(t, err)
	err = m.Up()
	require.NoError(t, err)

	// Create a connection pool
	dbpool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	// Teardown function to be called by the test
	teardown := func() {
		dbpool.Close()
		err := pgContainer.Terminate(ctx)
		require.NoError(t, err)
	}

	return dbpool, teardown
}

func TestSyncer_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	dbpool, teardown := setupTestDatabase(ctx, t)
	defer teardown()

	// Setup a mock GitHub API server
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/repos/test-owner/test-repo/issues":
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, `[
				{"id": 101, "number": 1, "state": "closed", "title": "Crash on boot",
				 "user": {"login": "alice"}, "comments": 3,
				 "labels": [{"name": "bug"}],
				 "created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-02T00:00:00Z",
				 "closed_at": "2024-01-01T06:00:00Z"},
				{"id": 102, "number": 2, "state": "open", "title": "Add dark mode",
				 "user": {"login": "dependabot[bot]"},
				 "pull_request": {"url": "https://example.com/pr/2"},
				 "created_at": "2024-01-03T00:00:00Z", "updated_at": "2024-01-03T00:00:00Z"}
			]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// GitHub adapter pointed at the mock server
	githubAdapter := hosts.NewGitHub(hosts.NewTokenPool([]string{"test-token"}), logger)
	githubAdapter.OverrideBaseURL(server.URL)
	registry := hosts.NewRegistry(githubAdapter, hosts.NewGitLab("", logger), hosts.NewGitea("", time.Second, logger))

	// Seed host and repository rows against the REAL database
	store := database.New(dbpool)
	host, err := store.UpsertHost(ctx, "GitHub", "https://github.com", model.KindGitHub, nil)
	require.NoError(t, err)
	repo, err := store.CreateRepository(ctx, host.ID, "test-owner/test-repo")
	require.NoError(t, err)

	appSyncer := syncer.NewSyncer(store, registry, nil, logger, 10, time.Hour)

	// --- ACT ---
	result, err := appSyncer.Sync(ctx, repo.ID)
	require.NoError(t, err)

	// --- ASSERT ---
	assert.Equal(t, int64(2), result.Created)
	assert.Equal(t, int64(0), result.Updated)

	issues, err := store.ListIssuesByRepository(ctx, repo.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, issues, 2)

	synced, err := store.GetRepositoryByID(ctx, repo.ID)
	require.NoError(t, err)
	assert.Nil(t, synced.Status)
	require.NotNil(t, synced.LastSyncedAt)
	require.NotNil(t, synced.IssuesCount)
	assert.Equal(t, int64(1), *synced.IssuesCount)
	require.NotNil(t, synced.PullRequestsCount)
	assert.Equal(t, int64(1), *synced.PullRequestsCount)
	require.NotNil(t, synced.BotPullRequestsCount)
	assert.Equal(t, int64(1), *synced.BotPullRequestsCount, "dependabot PR counts as a bot pull request")
	require.NotNil(t, synced.AvgTimeToCloseIssue)
	assert.InDelta(t, float64(6*3600), *synced.AvgTimeToCloseIssue, 0.1)

	// --- ACT again: idempotent re-sync updates instead of duplicating ---
	result, err = appSyncer.Sync(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Created)
	assert.Equal(t, int64(2), result.Updated)

	count, err := store.CountIssuesByRepository(ctx, repo.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
