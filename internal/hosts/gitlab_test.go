// internal/hosts/gitlab_test.go
package hosts

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gitlab "github.com/xanzy/go-gitlab"

	custom_errors "forge-issues/internal/errors"
)

func gitlabRespErr(status int) error {
	return &gitlab.ErrorResponse{Response: &http.Response{StatusCode: status}}
}

func TestClassifyGitLabError(t *testing.T) {
	assert.ErrorIs(t, classifyGitLabError(gitlabRespErr(http.StatusNotFound)), custom_errors.ErrRepositoryMissing)
	assert.ErrorIs(t, classifyGitLabError(gitlabRespErr(http.StatusGone)), custom_errors.ErrRepositoryMissing)

	for _, status := range []int{401, 403, 409, 500, 503} {
		err := classifyGitLabError(gitlabRespErr(status))
		assert.True(t, custom_errors.IsIgnorable(err), "status %d should be ignorable", status)
	}

	err := classifyGitLabError(gitlabRespErr(http.StatusTeapot))
	require.Error(t, err)
	assert.False(t, custom_errors.IsIgnorable(err))
	assert.False(t, custom_errors.IsMissing(err))

	plain := errors.New("dial tcp: connection refused")
	assert.Equal(t, plain, classifyGitLabError(plain), "non-response errors pass through")
}
