// internal/archive/importer.go
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"

	"forge-issues/internal/database"
	"forge-issues/internal/model"
)

// scanBufferSize bounds a single archive line; some event records run to
// several megabytes of nested payload.
const scanBufferSize = 16 * 1024 * 1024

// Store is the persistence surface the importer needs.
type Store interface {
	AlreadyImported(ctx context.Context, filename string) (bool, error)
	RecordImportSuccess(ctx context.Context, filename string, stats model.ImportStats) error
	RecordImportFailure(ctx context.Context, filename, errorMessage string) error
	UpsertRepositories(ctx context.Context, hostID int64, fullNames []string) (map[string]int64, error)
	BulkUpsertIssues(ctx context.Context, issues []model.Issue) (created, updated int64, err error)
	RecomputeRepositoryCounts(ctx context.Context, repoID int64) error
	UpdateHostCounts(ctx context.Context, hostID int64) error
}

// Options tune one import run.
type Options struct {
	// UpdateCounts recomputes repository and host aggregates after the hour.
	// Range sweeps set it false per hour and recompute once at the end.
	UpdateCounts bool
	// Force re-fetches an hour even when the ledger already records success.
	Force bool
}

// Importer replays hourly event-archive snapshots into the issue store. One
// Importer is bound to a single host (the global archive only covers GitHub)
// and is not safe for concurrent use; parallel hours at worst re-fetch, and
// the unique-key upserts converge to the same end state.
type Importer struct {
	store      Store
	hostID     int64
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	affected map[int64]struct{}
	stats    model.ImportStats
}

// NewImporter creates an importer bound to one host.
func NewImporter(store Store, hostID int64, baseURL string, timeout time.Duration, logger *slog.Logger) *Importer {
	return &Importer{
		store:      store,
		hostID:     hostID,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		affected:   make(map[int64]struct{}),
	}
}

// ImportHour replays one archive hour. Returns whether the hour ended in a
// successful ledger entry; failures are recorded on the ledger, never
// propagated as errors.
func (i *Importer) ImportHour(ctx context.Context, date time.Time, hour int, opts Options) bool {
	filename := model.ImportFilename(date, hour)
	logger := i.logger.With("filename", filename)

	if !opts.Force {
		done, err := i.store.AlreadyImported(ctx, filename)
		if err != nil {
			logger.Error("Ledger check failed", "error", err)
			return false
		}
		if done {
			logger.Info("Skipping hour, already imported")
			return true
		}
	}

	i.stats = model.ImportStats{}

	if err := i.importHour(ctx, filename, logger); err != nil {
		logger.Error("Import failed", "error", err)
		if recErr := i.store.RecordImportFailure(ctx, filename, err.Error()); recErr != nil {
			logger.Error("Failed to record import failure", "error", recErr)
		}
		return false
	}

	if opts.UpdateCounts && len(i.affected) > 0 {
		i.updateCounts(ctx)
	}

	if err := i.store.RecordImportSuccess(ctx, filename, i.stats); err != nil {
		logger.Error("Failed to record import success", "error", err)
		return false
	}
	logger.Info("Import completed",
		"issues", i.stats.IssuesCount, "pull_requests", i.stats.PullRequestsCount,
		"created", i.stats.CreatedCount, "updated", i.stats.UpdatedCount)
	return true
}

// ImportDateRange replays every hour in [start, end], deferring the counter
// recompute to one pass at the end of the whole range. Each hour is
// independent: a failed hour is recorded and the sweep moves on.
func (i *Importer) ImportDateRange(ctx context.Context, start, end time.Time) {
	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		for hour := 0; hour < 24; hour++ {
			if ctx.Err() != nil {
				return
			}
			i.ImportHour(ctx, date, hour, Options{UpdateCounts: false})
		}
	}
	if len(i.affected) > 0 {
		i.updateCounts(ctx)
	}
}

var filenamePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})-(\d+)\.json\.gz$`)

// RetryImport re-runs the hour recorded under a ledger filename.
func (i *Importer) RetryImport(ctx context.Context, filename string) (bool, error) {
	m := filenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return false, fmt.Errorf("unrecognized import filename: %q", filename)
	}
	date, err := time.Parse("2006-01-02", m[1])
	if err != nil {
		return false, err
	}
	hour, err := strconv.Atoi(m[2])
	if err != nil || hour < 0 || hour > 23 {
		return false, fmt.Errorf("unrecognized hour in filename: %q", filename)
	}
	return i.ImportHour(ctx, date, hour, Options{UpdateCounts: true, Force: true}), nil
}

func (i *Importer) importHour(ctx context.Context, filename string, logger *slog.Logger) error {
	url := i.baseURL + "/" + filename
	logger.Info("Downloading archive snapshot", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	events, err := i.parseEvents(gz, logger)
	if err != nil {
		return err
	}
	logger.Info("Parsed relevant events", "count", len(events))

	return i.processEvents(ctx, events, logger)
}

// parseEvents filters the newline-delimited stream down to issue and
// pull-request events at parse time to bound memory. Malformed lines are
// skipped with a warning.
func (i *Importer) parseEvents(r interface{ Read([]byte) (int, error) }, logger *slog.Logger) ([]archiveEvent, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)

	var events []archiveEvent
	for scanner.Scan() {
		line := scanner.Bytes()
		switch gjson.GetBytes(line, "type").String() {
		case "IssuesEvent", "PullRequestEvent":
		default:
			continue
		}
		var event archiveEvent
		if err := json.Unmarshal(line, &event); err != nil {
			logger.Warn("Skipping malformed JSON line", "error", err)
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading archive stream: %w", err)
	}
	return events, nil
}

func (i *Importer) processEvents(ctx context.Context, events []archiveEvent, logger *slog.Logger) error {
	// Grouped by lower(full_name): an hour can carry several case spellings
	// of one repository (case-only renames), and they must collapse to a
	// single row before the batch upsert or its single-statement conflict
	// handling rejects the duplicate key.
	grouped := make(map[string][]archiveEvent)
	var names []string
	for _, e := range events {
		name := e.Repo.Name
		if _, _, ok := strings.Cut(name, "/"); !ok || name == "" {
			logger.Warn("Skipping event with unusable repository name", "name", name)
			continue
		}
		key := strings.ToLower(name)
		if _, seen := grouped[key]; !seen {
			names = append(names, name)
		}
		grouped[key] = append(grouped[key], e)
	}
	if len(names) == 0 {
		return nil
	}
	logger.Info("Processing repositories", "count", len(names))

	repoIDs, err := i.store.UpsertRepositories(ctx, i.hostID, names)
	if err != nil {
		return fmt.Errorf("batch-creating repositories: %w", err)
	}

	var mapped []model.Issue
	for key, repoEvents := range grouped {
		repoID, ok := repoIDs[key]
		if !ok {
			logger.Warn("No repository row for event group", "name", key)
			continue
		}
		i.affected[repoID] = struct{}{}
		for _, e := range repoEvents {
			if issue := i.mapEvent(e, repoID, logger); issue != nil {
				mapped = append(mapped, *issue)
			}
		}
	}

	// Later array position wins for duplicate uuids within the hour.
	mapped = database.DedupLastWins(mapped)
	if len(mapped) == 0 {
		return nil
	}
	var stats model.ImportStats
	for _, issue := range mapped {
		if issue.PullRequest {
			stats.PullRequestsCount++
		} else {
			stats.IssuesCount++
		}
	}

	created, updated, err := i.store.BulkUpsertIssues(ctx, mapped)
	if err != nil {
		return fmt.Errorf("bulk upserting issues: %w", err)
	}
	stats.CreatedCount = created
	stats.UpdatedCount = updated
	i.stats.Add(stats)
	return nil
}

// updateCounts recomputes aggregates for every repository touched since the
// last recompute, then the host-level rollup, and clears the affected set.
// Per-repository failures are logged and skipped; one bad repository must not
// abort the rest.
func (i *Importer) updateCounts(ctx context.Context) {
	i.logger.Info("Updating counts", "repositories", len(i.affected))
	for repoID := range i.affected {
		if err := i.store.RecomputeRepositoryCounts(ctx, repoID); err != nil {
			i.logger.Error("Failed to recompute repository counts", "repo_id", repoID, "error", err)
		}
	}
	if err := i.store.UpdateHostCounts(ctx, i.hostID); err != nil {
		i.logger.Error("Failed to update host counts", "error", err)
	}
	i.affected = make(map[int64]struct{})
}

// HostStore is the subset of the store EnsureHost needs.
type HostStore interface {
	GetHostByName(ctx context.Context, name string) (model.Host, error)
	UpsertHost(ctx context.Context, name, url, kind string, iconURL *string) (model.Host, error)
}

// EnsureHost resolves the archive's host row, creating it if absent.
func EnsureHost(ctx context.Context, store HostStore) (model.Host, error) {
	host, err := store.GetHostByName(ctx, "GitHub")
	if err == nil {
		return host, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Host{}, err
	}
	return store.UpsertHost(ctx, "GitHub", "https://github.com", model.KindGitHub, nil)
}
