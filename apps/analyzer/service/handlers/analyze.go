package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pitabwire/util"

	appconfig "github.com/aircode610/ShipSure/apps/analyzer/config"
	"github.com/aircode610/ShipSure/internal/analysis"
)

// Request body limit for analyze submissions.
const maxAnalyzeRequestSize = 64 * 1024 // 64KB

// AnalyzeHandler starts analysis jobs and exposes their status and results.
type AnalyzeHandler struct {
	cfg     *appconfig.AnalyzerConfig
	manager *analysis.Manager
}

// NewAnalyzeHandler creates an analyze handler.
func NewAnalyzeHandler(cfg *appconfig.AnalyzerConfig, manager *analysis.Manager) *AnalyzeHandler {
	return &AnalyzeHandler{
		cfg:     cfg,
		manager: manager,
	}
}

// AnalyzeRequest is an incoming analysis submission.
type AnalyzeRequest struct {
	// Owner is the repository owner (required).
	Owner string `json:"owner"`

	// Repo is the repository name (required).
	Repo string `json:"repo"`

	// PRNumbers are the pull requests to analyze (required, non-empty).
	PRNumbers []int `json:"prNumbers"`

	// SkipTests bypasses sandbox test execution for this job (optional).
	SkipTests *bool `json:"skipTests,omitempty"`

	// SkipScoring bypasses AI scoring for this job (optional).
	SkipScoring *bool `json:"skipScoring,omitempty"`
}

// AnalyzeResponse is returned when a job is accepted.
type AnalyzeResponse struct {
	Status  string `json:"status"`
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// ErrorResponse is the error response returned to API clients.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Start handles POST /api/v1/analyze.
func (h *AnalyzeHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := util.Log(ctx)

	bodyReader := http.MaxBytesReader(w, r.Body, maxAnalyzeRequestSize)
	body, err := io.ReadAll(bodyReader)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeErrorResponse(w, http.StatusRequestEntityTooLarge, "request_too_large",
				fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxAnalyzeRequestSize), nil)
			return
		}
		writeErrorResponse(w, http.StatusBadRequest, "invalid_request",
			"Failed to read request body", nil)
		return
	}

	var request AnalyzeRequest
	if unmarshalErr := json.Unmarshal(body, &request); unmarshalErr != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_json",
			"Failed to parse JSON request body",
			map[string]string{"parse_error": unmarshalErr.Error()})
		return
	}

	if validationErr := validateAnalyzeRequest(&request); validationErr != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error",
			validationErr.Error(), map[string]string{"field": validationErr.Field})
		return
	}

	opts := analysis.Options{
		SkipTests:         h.cfg.SkipTests,
		SkipScoring:       h.cfg.SkipScoring,
		ReviewPollTimeout: time.Duration(h.cfg.ReviewPollTimeoutSeconds) * time.Second,
		SandboxTimeout:    time.Duration(h.cfg.SandboxTimeoutSeconds) * time.Second,
	}
	if request.SkipTests != nil {
		opts.SkipTests = *request.SkipTests
	}
	if request.SkipScoring != nil {
		opts.SkipScoring = *request.SkipScoring
	}

	jobID, err := h.manager.Start(ctx, analysis.StartRequest{
		Owner:     request.Owner,
		Repo:      request.Repo,
		PRNumbers: request.PRNumbers,
		Options:   opts,
	})
	if err != nil {
		if errors.Is(err, analysis.ErrNoPullRequests) {
			writeErrorResponse(w, http.StatusBadRequest, "validation_error",
				"At least one pull request number is required",
				map[string]string{"field": "prNumbers"})
			return
		}
		log.WithError(err).Error("failed to start analysis job",
			"owner", request.Owner,
			"repo", request.Repo,
		)
		writeErrorResponse(w, http.StatusInternalServerError, "start_error",
			"Failed to start analysis job", nil)
		return
	}

	log.Info("analysis job started",
		"job_id", jobID,
		"owner", request.Owner,
		"repo", request.Repo,
		"pr_count", len(request.PRNumbers),
	)

	writeJSONResponse(w, http.StatusAccepted, AnalyzeResponse{
		Status:  "accepted",
		JobID:   jobID,
		Message: "Analysis job queued for processing",
	})
}

// Status handles GET /api/v1/analyze/{jobID}/status.
func (h *AnalyzeHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, ok := jobIDFromRequest(w, r)
	if !ok {
		return
	}

	snapshot, err := h.manager.Status(ctx, jobID)
	if err != nil {
		if errors.Is(err, analysis.ErrJobNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "job_not_found",
				"No job with the given ID", nil)
			return
		}
		util.Log(ctx).WithError(err).Error("failed to load job status", "job_id", jobID)
		writeErrorResponse(w, http.StatusInternalServerError, "status_error",
			"Failed to load job status", nil)
		return
	}

	writeJSONResponse(w, http.StatusOK, snapshot)
}

// Results handles GET /api/v1/analyze/{jobID}/results.
func (h *AnalyzeHandler) Results(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, ok := jobIDFromRequest(w, r)
	if !ok {
		return
	}

	report, err := h.manager.Results(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, analysis.ErrJobNotFound):
			writeErrorResponse(w, http.StatusNotFound, "job_not_found",
				"No job with the given ID", nil)
		case errors.Is(err, analysis.ErrJobNotCompleted):
			writeErrorResponse(w, http.StatusConflict, "job_not_completed",
				"Job has not completed yet", nil)
		default:
			util.Log(ctx).WithError(err).Error("failed to load job results", "job_id", jobID)
			writeErrorResponse(w, http.StatusInternalServerError, "results_error",
				"Failed to load job results", nil)
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, report)
}

// Cancel handles POST /api/v1/analyze/{jobID}/cancel.
func (h *AnalyzeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, ok := jobIDFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.manager.Cancel(jobID); err != nil {
		if errors.Is(err, analysis.ErrJobNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "job_not_found",
				"No job with the given ID", nil)
			return
		}
		util.Log(ctx).WithError(err).Error("failed to cancel job", "job_id", jobID)
		writeErrorResponse(w, http.StatusInternalServerError, "cancel_error",
			"Failed to cancel job", nil)
		return
	}

	util.Log(ctx).Info("analysis job cancelled", "job_id", jobID)

	writeJSONResponse(w, http.StatusAccepted, map[string]string{
		"status": "cancelling",
		"jobId":  jobID,
	})
}

// validateAnalyzeRequest validates an analysis submission.
func validateAnalyzeRequest(req *AnalyzeRequest) *ValidationError {
	if req.Owner == "" {
		return &ValidationError{Field: "owner", Message: "owner is required"}
	}
	if req.Repo == "" {
		return &ValidationError{Field: "repo", Message: "repo is required"}
	}
	if len(req.PRNumbers) == 0 {
		return &ValidationError{
			Field:   "prNumbers",
			Message: "at least one pull request number is required",
		}
	}
	for _, n := range req.PRNumbers {
		if n <= 0 {
			return &ValidationError{
				Field:   "prNumbers",
				Message: "pull request numbers must be positive",
			}
		}
	}
	return nil
}

// jobIDFromRequest extracts and validates the jobID path value.
func jobIDFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.PathValue("jobID")
	id, err := analysis.ParseJobID(raw)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_job_id",
			"Job ID is not valid", map[string]string{"job_id": raw})
		return "", false
	}
	return id.String(), true
}

// writeJSONResponse writes a JSON response with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeErrorResponse writes an error JSON response.
func writeErrorResponse(
	w http.ResponseWriter,
	statusCode int,
	errorCode, message string,
	details map[string]string,
) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}
