// internal/hosts/hosts.go
package hosts

import (
	"context"
	"time"

	custom_errors "forge-issues/internal/errors"
	"forge-issues/internal/model"
)

// BatchFunc receives one page of normalized issue records. Returning an error
// stops the fetch.
type BatchFunc func(ctx context.Context, batch []model.Issue) error

// Adapter is the per-forge-kind strategy for fetching a repository's issues
// and pull requests. Implementations paginate until exhausted, emit each page
// as one batch, skip individually malformed records, and classify upstream
// errors as ignorable (transient, "no data this call") or missing
// (authoritative absence, ErrRepositoryMissing).
type Adapter interface {
	FetchIssues(ctx context.Context, host *model.Host, repo *model.Repository, since *time.Time, emit BatchFunc) error
}

// Registry resolves adapters by host kind.
type Registry struct {
	github *GitHub
	gitlab *GitLab
	gitea  *Gitea
}

// NewRegistry wires the three adapter variants.
func NewRegistry(github *GitHub, gitlab *GitLab, gitea *Gitea) *Registry {
	return &Registry{github: github, gitlab: gitlab, gitea: gitea}
}

// ForKind returns the adapter for a host kind.
func (r *Registry) ForKind(kind string) (Adapter, error) {
	switch kind {
	case model.KindGitHub:
		return r.github, nil
	case model.KindGitLab:
		return r.gitlab, nil
	case model.KindGitea:
		return r.gitea, nil
	default:
		return nil, &custom_errors.ErrUnsupportedHostKind{Kind: kind}
	}
}

const perPage = 100
