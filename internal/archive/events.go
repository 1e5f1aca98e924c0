// internal/archive/events.go
package archive

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"forge-issues/internal/model"
	"forge-issues/internal/normalize"
)

// archiveEvent is one relevant line of an hourly snapshot.
type archiveEvent struct {
	Type string `json:"type"`
	Repo struct {
		Name string `json:"name"`
	} `json:"repo"`
	Payload struct {
		Issue       *rawRecord `json:"issue"`
		PullRequest *rawRecord `json:"pull_request"`
	} `json:"payload"`
}

// rawRecord covers both issue and pull-request payload shapes. Timestamps are
// kept as strings and re-parsed defensively: the archive's schema has drifted
// over the years and unparseable values must degrade to null, not fail the
// event.
type rawRecord struct {
	ID                int64  `json:"id"`
	Number            int64  `json:"number"`
	State             string `json:"state"`
	Title             string `json:"title"`
	Locked            bool   `json:"locked"`
	Comments          int64  `json:"comments"`
	AuthorAssociation string `json:"author_association"`
	StateReason       string `json:"state_reason"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
	ClosedAt          string `json:"closed_at"`
	MergedAt          string `json:"merged_at"`
	User              *struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
}

// mapEvent turns an event into a canonical issue record, or nil when the
// payload is unusable. Pull-request payloads may arrive minimal (little more
// than id/number/base/head after a 2015 schema change); missing fields get
// defaults instead of discarding the event.
func (i *Importer) mapEvent(e archiveEvent, repoID int64, logger *slog.Logger) *model.Issue {
	var raw *rawRecord
	var pullRequest bool
	switch e.Type {
	case "IssuesEvent":
		raw = e.Payload.Issue
	case "PullRequestEvent":
		raw = e.Payload.PullRequest
		pullRequest = true
	default:
		return nil
	}
	if raw == nil || raw.ID == 0 {
		logger.Warn("Skipping event without payload record", "type", e.Type, "repo", e.Repo.Name)
		return nil
	}

	out := model.Issue{
		RepositoryID:  repoID,
		HostID:        i.hostID,
		UUID:          strconv.FormatInt(raw.ID, 10),
		Number:        raw.Number,
		State:         raw.State,
		Title:         raw.Title,
		Locked:        raw.Locked,
		CommentsCount: raw.Comments,
		PullRequest:   pullRequest,
		Labels:        []string{},
		Assignees:     []string{},
		CreatedAt:     i.parseTimestamp(raw.CreatedAt, e.Repo.Name, logger),
		UpdatedAt:     i.parseTimestamp(raw.UpdatedAt, e.Repo.Name, logger),
		ClosedAt:      i.parseTimestamp(raw.ClosedAt, e.Repo.Name, logger),
		MergedAt:      i.parseTimestamp(raw.MergedAt, e.Repo.Name, logger),
	}
	if out.State == "" {
		out.State = "open"
	}
	if out.Title == "" && pullRequest {
		out.Title = fmt.Sprintf("PR #%d", out.Number)
	}
	if raw.User != nil && raw.User.Login != "" {
		u := raw.User.Login
		out.User = &u
	}
	if raw.AuthorAssociation != "" {
		aa := raw.AuthorAssociation
		out.AuthorAssociation = &aa
	}
	if raw.StateReason != "" {
		sr := raw.StateReason
		out.StateReason = &sr
	}
	for _, l := range raw.Labels {
		if l.Name != "" {
			out.Labels = append(out.Labels, l.Name)
		}
	}
	for _, a := range raw.Assignees {
		if a.Login != "" {
			out.Assignees = append(out.Assignees, a.Login)
		}
	}
	normalize.Finalize(&out)
	return &out
}

// parseTimestamp parses an RFC 3339 timestamp, falling back to the archive's
// older epoch-ish "2006/01/02 15:04:05 -0700" layout, and to nil when neither
// fits.
func (i *Importer) parseTimestamp(value, repoName string, logger *slog.Logger) *time.Time {
	if value == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t
	}
	if t, err := time.Parse("2006/01/02 15:04:05 -0700", value); err == nil {
		return &t
	}
	logger.Warn("Unparseable timestamp", "value", value, "repo", repoName)
	return nil
}
