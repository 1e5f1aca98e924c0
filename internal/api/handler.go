// internal/api/handler.go
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"

	"forge-issues/internal/database"
	"forge-issues/internal/model"
)

// Store is the read surface the API serves from.
type Store interface {
	ListHosts(ctx context.Context) ([]model.Host, error)
	GetHostByName(ctx context.Context, name string) (model.Host, error)
	ListRepositoriesByHost(ctx context.Context, hostID int64, limit, offset int) ([]model.Repository, error)
	GetRepository(ctx context.Context, hostID int64, fullName string) (model.Repository, error)
	ListIssuesByRepository(ctx context.Context, repoID int64, limit, offset int) ([]model.Issue, error)
	RepositoryLabelCounts(ctx context.Context, repoID int64, pullRequest bool) ([]model.LabelCount, error)
	ListRecentImports(ctx context.Context, limit int) ([]model.Import, error)
	SummarizeImports(ctx context.Context) (database.ImportSummary, error)
	SetOwnerHidden(ctx context.Context, hostID int64, login string, hidden bool) error
}

// JobService accepts and reports on async sync requests.
type JobService interface {
	EnqueueSync(ctx context.Context, repoURL, ip string, priority bool) (model.Job, error)
	GetJob(ctx context.Context, id string) (model.Job, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	store          Store
	jobs           JobService
	archiveBaseURL string
	logger         *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(store Store, jobs JobService, archiveBaseURL string, logger *slog.Logger) http.Handler {
	h := &Handler{
		store:          store,
		jobs:           jobs,
		archiveBaseURL: archiveBaseURL,
		logger:         logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/hosts", h.listHosts)
		r.Get("/hosts/{name}", h.getHost)
		r.Get("/hosts/{name}/repositories", h.listRepositories)
		r.Get("/hosts/{name}/repositories/{owner}/{repo}", h.getRepository)
		r.Get("/hosts/{name}/repositories/{owner}/{repo}/issues", h.listIssues)
		r.Get("/hosts/{name}/repositories/{owner}/{repo}/labels", h.listLabels)
		r.Post("/hosts/{name}/owners/{login}/visibility", h.setOwnerVisibility)
		r.Get("/imports", h.listImports)
		r.Get("/imports/status", h.importStatus)
		r.Get("/jobs/{id}", h.getJob)
		r.Post("/jobs/lookup", h.lookupJob)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listHosts returns every tracked host with its aggregate counters.
// GET /api/v1/hosts
func (h *Handler) listHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.store.ListHosts(r.Context())
	if err != nil {
		h.logger.Error("Failed to list hosts", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	views := make([]hostView, 0, len(hosts))
	for _, host := range hosts {
		views = append(views, newHostView(host))
	}
	respondWithJSON(w, http.StatusOK, views)
}

// getHost returns one host by name (case-insensitive).
// GET /api/v1/hosts/{name}
func (h *Handler) getHost(w http.ResponseWriter, r *http.Request) {
	host, ok := h.resolveHost(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, newHostView(host))
}

// listRepositories returns a page of a host's repositories.
// GET /api/v1/hosts/{name}/repositories?page=N&per_page=M
func (h *Handler) listRepositories(w http.ResponseWriter, r *http.Request) {
	host, ok := h.resolveHost(w, r)
	if !ok {
		return
	}
	limit, offset, ok := parsePagination(w, r)
	if !ok {
		return
	}
	repos, err := h.store.ListRepositoriesByHost(r.Context(), host.ID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list repositories", "host", host.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	views := make([]repositoryView, 0, len(repos))
	for _, repo := range repos {
		views = append(views, newRepositoryView(repo, &host))
	}
	respondWithJSON(w, http.StatusOK, views)
}

// getRepository returns one repository with all derived counters.
// GET /api/v1/hosts/{name}/repositories/{owner}/{repo}
func (h *Handler) getRepository(w http.ResponseWriter, r *http.Request) {
	host, repo, ok := h.resolveRepository(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, newRepositoryView(repo, &host))
}

// listIssues returns a page of a repository's issues and pull requests,
// most recently updated first.
// GET /api/v1/hosts/{name}/repositories/{owner}/{repo}/issues?page=N&per_page=M
func (h *Handler) listIssues(w http.ResponseWriter, r *http.Request) {
	_, repo, ok := h.resolveRepository(w, r)
	if !ok {
		return
	}
	limit, offset, ok := parsePagination(w, r)
	if !ok {
		return
	}
	issues, err := h.store.ListIssuesByRepository(r.Context(), repo.ID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list issues", "repo", repo.FullName, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	views := make([]issueView, 0, len(issues))
	for _, issue := range issues {
		views = append(views, newIssueView(issue))
	}
	respondWithJSON(w, http.StatusOK, views)
}

// listLabels returns label usage tallies for a repository, busiest first.
// GET /api/v1/hosts/{name}/repositories/{owner}/{repo}/labels?pull_request=true
func (h *Handler) listLabels(w http.ResponseWriter, r *http.Request) {
	_, repo, ok := h.resolveRepository(w, r)
	if !ok {
		return
	}
	pullRequest := r.URL.Query().Get("pull_request") == "true"
	counts, err := h.store.RepositoryLabelCounts(r.Context(), repo.ID, pullRequest)
	if err != nil {
		h.logger.Error("Failed to tally labels", "repo", repo.FullName, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	out := make(map[string]int64, len(counts))
	for _, c := range counts {
		out[c.Label] = c.Count
	}
	respondWithJSON(w, http.StatusOK, out)
}

// setOwnerVisibility hides or unhides an owner login from aggregate views.
// Ingestion is unaffected; this is a read-time moderation flag.
// POST /api/v1/hosts/{name}/owners/{login}/visibility?hidden=true|false
func (h *Handler) setOwnerVisibility(w http.ResponseWriter, r *http.Request) {
	host, ok := h.resolveHost(w, r)
	if !ok {
		return
	}
	hidden, err := strconv.ParseBool(r.URL.Query().Get("hidden"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid 'hidden' parameter. Must be true or false.")
		return
	}
	login := chi.URLParam(r, "login")
	if err := h.store.SetOwnerHidden(r.Context(), host.ID, login, hidden); err != nil {
		h.logger.Error("Failed to set owner visibility", "login", login, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"login": login, "hidden": hidden})
}

// listImports returns the most recent archive-import ledger entries.
// GET /api/v1/imports
func (h *Handler) listImports(w http.ResponseWriter, r *http.Request) {
	imports, err := h.store.ListRecentImports(r.Context(), 100)
	if err != nil {
		h.logger.Error("Failed to list imports", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	views := make([]importView, 0, len(imports))
	for _, imp := range imports {
		views = append(views, newImportView(imp, h.archiveBaseURL))
	}
	respondWithJSON(w, http.StatusOK, views)
}

// importStatus rolls the whole import ledger up.
// GET /api/v1/imports/status
func (h *Handler) importStatus(w http.ResponseWriter, r *http.Request) {
	sum, err := h.store.SummarizeImports(r.Context())
	if err != nil {
		h.logger.Error("Failed to summarize imports", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int64{
		"total":         sum.Total,
		"successful":    sum.Successful,
		"failed":        sum.Failed,
		"issues_count":  sum.IssuesCount,
		"created_count": sum.CreatedCount,
		"updated_count": sum.UpdatedCount,
	})
}

// getJob returns the state of an async sync request.
// GET /api/v1/jobs/{id}
func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error("Failed to get job", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, newJobView(job))
}

// lookupJob accepts a repository URL and enqueues a high-priority sync job
// for it. Responds 202 with the job record to poll.
// POST /api/v1/jobs/lookup?url=...
func (h *Handler) lookupJob(w http.ResponseWriter, r *http.Request) {
	repoURL := r.URL.Query().Get("url")
	if repoURL == "" {
		respondWithError(w, http.StatusBadRequest, "Missing 'url' parameter")
		return
	}
	job, err := h.jobs.EnqueueSync(r.Context(), repoURL, r.RemoteAddr, true)
	if err != nil {
		h.logger.Error("Failed to enqueue job", "url", repoURL, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusAccepted, newJobView(job))
}

// resolveHost loads the host named in the route, writing the error response
// itself when that fails.
func (h *Handler) resolveHost(w http.ResponseWriter, r *http.Request) (model.Host, bool) {
	host, err := h.store.GetHostByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Host not found")
			return model.Host{}, false
		}
		h.logger.Error("Failed to get host", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return model.Host{}, false
	}
	return host, true
}

// resolveRepository loads the host and repository named in the route.
func (h *Handler) resolveRepository(w http.ResponseWriter, r *http.Request) (model.Host, model.Repository, bool) {
	host, ok := h.resolveHost(w, r)
	if !ok {
		return model.Host{}, model.Repository{}, false
	}
	fullName := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo")
	repo, err := h.store.GetRepository(r.Context(), host.ID, fullName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return model.Host{}, model.Repository{}, false
		}
		h.logger.Error("Failed to get repository", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return model.Host{}, model.Repository{}, false
	}
	return host, repo, true
}

// parsePagination reads page/per_page query parameters, writing a 400 itself
// on bad input.
func parsePagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	perPage := 30
	if v := r.URL.Query().Get("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'per_page' parameter. Must be an integer between 1 and 100.")
			return 0, 0, false
		}
		perPage = n
	}
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'page' parameter. Must be a positive integer.")
			return 0, 0, false
		}
		page = n
	}
	return perPage, (page - 1) * perPage, true
}
