// internal/database/imports.go
package database

import (
	"context"

	"github.com/jackc/pgx/v5"

	"forge-issues/internal/model"
)

const importColumns = `id, filename, imported_at, issues_count,
	pull_requests_count, created_count, updated_count, success, error_message,
	created_at, updated_at`

func scanImport(row pgx.Row) (model.Import, error) {
	var im model.Import
	err := row.Scan(&im.ID, &im.Filename, &im.ImportedAt, &im.IssuesCount,
		&im.PullRequestsCount, &im.CreatedCount, &im.UpdatedCount,
		&im.Success, &im.ErrorMessage, &im.CreatedAt, &im.UpdatedAt)
	return im, err
}

// AlreadyImported reports whether a successful import is recorded for the
// filename. A success row means the hour is never fetched again unless the
// caller forces a re-run.
func (s *Store) AlreadyImported(ctx context.Context, filename string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM imports WHERE filename = $1 AND success)`,
		filename).Scan(&exists)
	return exists, err
}

// RecordImportSuccess writes (or overwrites) the ledger row for a completed
// hour with its final stats.
func (s *Store) RecordImportSuccess(ctx context.Context, filename string, stats model.ImportStats) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO imports (filename, imported_at, issues_count,
			pull_requests_count, created_count, updated_count, success, error_message)
		VALUES ($1, now(), $2, $3, $4, $5, TRUE, NULL)
		ON CONFLICT (filename) DO UPDATE SET
			imported_at = now(),
			issues_count = EXCLUDED.issues_count,
			pull_requests_count = EXCLUDED.pull_requests_count,
			created_count = EXCLUDED.created_count,
			updated_count = EXCLUDED.updated_count,
			success = TRUE,
			error_message = NULL,
			updated_at = now()`,
		filename, stats.IssuesCount, stats.PullRequestsCount,
		stats.CreatedCount, stats.UpdatedCount)
	return err
}

// RecordImportFailure writes the ledger row for a failed hour with the
// failure reason. A prior success row is never downgraded.
func (s *Store) RecordImportFailure(ctx context.Context, filename, errorMessage string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO imports (filename, imported_at, success, error_message)
		VALUES ($1, now(), FALSE, $2)
		ON CONFLICT (filename) DO UPDATE SET
			imported_at = now(),
			error_message = EXCLUDED.error_message,
			updated_at = now()
		WHERE NOT imports.success`,
		filename, errorMessage)
	return err
}

// GetImport returns one ledger row by filename.
func (s *Store) GetImport(ctx context.Context, filename string) (model.Import, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+importColumns+` FROM imports WHERE filename = $1`, filename)
	return scanImport(row)
}

// ListRecentImports returns the most recently attempted imports.
func (s *Store) ListRecentImports(ctx context.Context, limit int) ([]model.Import, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+importColumns+` FROM imports
		ORDER BY imported_at DESC NULLS LAST
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var imports []model.Import
	for rows.Next() {
		im, err := scanImport(rows)
		if err != nil {
			return nil, err
		}
		imports = append(imports, im)
	}
	return imports, rows.Err()
}

// ImportSummary aggregates the ledger for the status endpoint.
type ImportSummary struct {
	Total        int64
	Successful   int64
	Failed       int64
	IssuesCount  int64
	CreatedCount int64
	UpdatedCount int64
}

// SummarizeImports rolls the whole ledger up.
func (s *Store) SummarizeImports(ctx context.Context) (ImportSummary, error) {
	var sum ImportSummary
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE NOT success),
			COALESCE(SUM(issues_count + pull_requests_count), 0),
			COALESCE(SUM(created_count), 0),
			COALESCE(SUM(updated_count), 0)
		FROM imports`).Scan(&sum.Total, &sum.Successful, &sum.Failed,
		&sum.IssuesCount, &sum.CreatedCount, &sum.UpdatedCount)
	return sum, err
}
