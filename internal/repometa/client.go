// internal/repometa/client.go
package repometa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	custom_errors "forge-issues/internal/errors"
)

const userAgent = "forge-issues"

// Client talks to the upstream repository-directory service. A 404 from the
// lookup endpoint is the authoritative "repository does not exist" signal.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a directory client with the auxiliary-lookup timeout.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// HostInfo is one entry of the host directory.
type HostInfo struct {
	Name    string  `json:"name"`
	URL     string  `json:"url"`
	Kind    string  `json:"kind"`
	IconURL *string `json:"icon_url"`
}

// LookupResult describes a repository resolved from an arbitrary URL.
type LookupResult struct {
	Host          HostInfo `json:"host"`
	FullName      string   `json:"full_name"`
	Owner         string   `json:"owner"`
	DefaultBranch *string  `json:"default_branch"`
	Status        *string  `json:"status"`
}

// Lookup resolves a repository URL to its host and canonical full name.
// Returns ErrRepositoryMissing on 404.
func (c *Client) Lookup(ctx context.Context, repoURL string) (*LookupResult, error) {
	endpoint := fmt.Sprintf("%s/api/v1/repositories/lookup?url=%s", c.baseURL, url.QueryEscape(repoURL))
	var result LookupResult
	if err := c.getJSON(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RepositoryMetadata fetches directory metadata for one repository. Returns
// ErrRepositoryMissing on 404.
func (c *Client) RepositoryMetadata(ctx context.Context, hostName, fullName string) (*LookupResult, error) {
	endpoint := fmt.Sprintf("%s/api/v1/hosts/%s/repositories/%s",
		c.baseURL, url.PathEscape(hostName), fullName)
	var result LookupResult
	if err := c.getJSON(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListHosts fetches the full host directory.
func (c *Client) ListHosts(ctx context.Context) ([]HostInfo, error) {
	var hosts []HostInfo
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/hosts", &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

// RecentRepository is one entry of a host's recently-updated repository feed.
type RecentRepository struct {
	FullName string `json:"full_name"`
}

// ListRecentRepositories fetches the recently-updated repositories of a host.
func (c *Client) ListRecentRepositories(ctx context.Context, hostName string) ([]RecentRepository, error) {
	endpoint := fmt.Sprintf("%s/api/v1/hosts/%s/repositories", c.baseURL, url.PathEscape(hostName))
	var repos []RecentRepository
	if err := c.getJSON(ctx, endpoint, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// getJSON performs a GET with retry on transport errors and 5xx responses.
// 404 is returned immediately as ErrRepositoryMissing; other non-2xx statuses
// fail without retry.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("X-Requested-By", userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(body, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(custom_errors.ErrRepositoryMissing)
		case resp.StatusCode >= 500:
			return fmt.Errorf("upstream status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("upstream status %d", resp.StatusCode))
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.Retry(operation, policy)
}
