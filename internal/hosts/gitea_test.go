// internal/hosts/gitea_test.go
package hosts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "forge-issues/internal/errors"
	"forge-issues/internal/model"
)

func testGitea(t *testing.T) *Gitea {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewGitea("test-token", 5*time.Second, logger)
}

func giteaHost(serverURL string) *model.Host {
	return &model.Host{ID: 3, Name: "Codeberg", URL: serverURL, Kind: model.KindGitea}
}

func TestGitea_FetchIssues_Pagination(t *testing.T) {
	var pages int
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/repos/forgejo/forgejo/issues", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		pages++
		switch pages {
		case 1:
			assert.Equal(t, "all", r.URL.Query().Get("state"))
			assert.Equal(t, "all", r.URL.Query().Get("type"))
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/repos/forgejo/forgejo/issues?page=2>; rel="next"`, server.URL))
			fmt.Fprintln(w, `[
				{"id": 11, "number": 1, "title": "First", "state": "open", "comments": 2,
				 "user": {"login": "alice"}, "labels": [{"name": "bug"}],
				 "created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-02T00:00:00Z"}
			]`)
		case 2:
			assert.Equal(t, "2", r.URL.Query().Get("page"))
			fmt.Fprintln(w, `[
				{"id": 12, "number": 2, "title": "Add feature", "state": "closed", "is_locked": true,
				 "user": {"login": "bob"},
				 "created_at": "2024-01-01T00:00:00Z", "closed_at": "2024-01-03T00:00:00Z",
				 "pull_request": {"merged": true, "merged_at": "2024-01-03T00:00:00Z"}}
			]`)
		default:
			t.Fatal("unexpected extra page request")
		}
	}))
	defer server.Close()

	g := testGitea(t)
	repo := &model.Repository{ID: 7, HostID: 3, FullName: "forgejo/forgejo"}

	var got []model.Issue
	err := g.FetchIssues(context.Background(), giteaHost(server.URL), repo, nil, func(ctx context.Context, batch []model.Issue) error {
		got = append(got, batch...)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "11", first.UUID)
	assert.Equal(t, int64(7), first.RepositoryID)
	assert.Equal(t, int64(3), first.HostID)
	assert.False(t, first.PullRequest)
	require.NotNil(t, first.User)
	assert.Equal(t, "alice", *first.User)
	assert.Equal(t, []string{"bug"}, first.Labels)
	assert.Nil(t, first.TimeToClose)

	second := got[1]
	assert.Equal(t, "12", second.UUID)
	assert.True(t, second.PullRequest)
	assert.True(t, second.Locked)
	require.NotNil(t, second.MergedAt)
	require.NotNil(t, second.TimeToClose)
	assert.Equal(t, int64(2*24*3600), *second.TimeToClose)
}

func TestGitea_FetchIssues_Since(t *testing.T) {
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, since.Format(time.RFC3339), r.URL.Query().Get("since"))
		assert.Equal(t, since.Format(time.RFC3339), r.URL.Query().Get("updated_after"))
		fmt.Fprintln(w, `[]`)
	}))
	defer server.Close()

	g := testGitea(t)
	repo := &model.Repository{ID: 7, HostID: 3, FullName: "forgejo/forgejo"}
	err := g.FetchIssues(context.Background(), giteaHost(server.URL), repo, &since, func(ctx context.Context, batch []model.Issue) error {
		assert.Empty(t, batch)
		return nil
	})
	require.NoError(t, err)
}

func TestGitea_FetchIssues_SkipsMalformedRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `[
			{"id": 0, "number": 9},
			{"id": "not-a-number"},
			{"id": 21, "number": 3, "title": "Valid", "state": "open"}
		]`)
	}))
	defer server.Close()

	g := testGitea(t)
	repo := &model.Repository{ID: 7, HostID: 3, FullName: "forgejo/forgejo"}

	var got []model.Issue
	err := g.FetchIssues(context.Background(), giteaHost(server.URL), repo, nil, func(ctx context.Context, batch []model.Issue) error {
		got = append(got, batch...)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "21", got[0].UUID)
}

func TestClassifyGiteaStatus(t *testing.T) {
	assert.NoError(t, classifyGiteaStatus(http.StatusOK))

	assert.ErrorIs(t, classifyGiteaStatus(http.StatusNotFound), custom_errors.ErrRepositoryMissing)
	assert.ErrorIs(t, classifyGiteaStatus(http.StatusGone), custom_errors.ErrRepositoryMissing)

	for _, status := range []int{401, 403, 409, 500, 503} {
		err := classifyGiteaStatus(status)
		assert.True(t, custom_errors.IsIgnorable(err), "status %d should be ignorable", status)
	}

	err := classifyGiteaStatus(http.StatusTeapot)
	require.Error(t, err)
	assert.False(t, custom_errors.IsIgnorable(err))
	assert.False(t, custom_errors.IsMissing(err))
}
