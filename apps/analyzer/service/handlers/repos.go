package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/pitabwire/util"

	"github.com/aircode610/ShipSure/internal/githubapi"
	"github.com/aircode610/ShipSure/internal/models"
)

// RepoLister lists repositories and their pull requests.
type RepoLister interface {
	ListRepositories(ctx context.Context) ([]models.Repository, error)
	ListPullRequests(ctx context.Context, owner, repo, state string) ([]models.PullRequest, error)
}

// RepoHandler serves repository and pull request listings for the
// selection UI.
type RepoHandler struct {
	lister RepoLister
}

// NewRepoHandler creates a repo listing handler.
func NewRepoHandler(lister RepoLister) *RepoHandler {
	return &RepoHandler{lister: lister}
}

// ListRepositories handles GET /api/v1/repos.
func (h *RepoHandler) ListRepositories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	repos, err := h.lister.ListRepositories(ctx)
	if err != nil {
		h.writeListError(w, r, err, "failed to list repositories")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"repositories": repos,
		"count":        len(repos),
	})
}

// ListPullRequests handles GET /api/v1/repos/{owner}/{repo}/prs.
func (h *RepoHandler) ListPullRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner := r.PathValue("owner")
	repo := r.PathValue("repo")
	state := r.URL.Query().Get("state")
	if state == "" {
		state = "open"
	}

	prs, err := h.lister.ListPullRequests(ctx, owner, repo, state)
	if err != nil {
		h.writeListError(w, r, err, "failed to list pull requests")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"pullRequests": prs,
		"count":        len(prs),
	})
}

// writeListError maps platform errors onto HTTP responses.
func (h *RepoHandler) writeListError(w http.ResponseWriter, r *http.Request, err error, logMsg string) {
	ctx := r.Context()
	util.Log(ctx).WithError(err).Error(logMsg, "path", r.URL.Path)

	switch {
	case errors.Is(err, githubapi.ErrAuthentication):
		writeErrorResponse(w, http.StatusUnauthorized, "authentication_error",
			"Platform credentials were rejected", nil)
	case errors.Is(err, githubapi.ErrNotFound):
		writeErrorResponse(w, http.StatusNotFound, "not_found",
			"Repository not found or not accessible", nil)
	case errors.Is(err, githubapi.ErrRateLimited):
		writeErrorResponse(w, http.StatusTooManyRequests, "rate_limited",
			"Platform rate limit exceeded, retry later", nil)
	default:
		writeErrorResponse(w, http.StatusBadGateway, "platform_error",
			"Platform request failed", nil)
	}
}
