package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/aircode610/ShipSure/apps/analyzer/config"
	"github.com/aircode610/ShipSure/apps/analyzer/service/handlers"
	"github.com/aircode610/ShipSure/internal/analysis"
	"github.com/aircode610/ShipSure/internal/githubapi"
	"github.com/aircode610/ShipSure/internal/models"
	"github.com/aircode610/ShipSure/internal/review"
	"github.com/aircode610/ShipSure/internal/sandbox"
	"github.com/aircode610/ShipSure/internal/scoring"
)

// fakeSource serves canned platform data for handler tests.
type fakeSource struct{}

func (fakeSource) GetPullRequest(_ context.Context, _, _ string, number int) (*githubapi.PRInfo, error) {
	return &githubapi.PRInfo{Number: number, Title: "Stub PR", HeadSHA: "abc"}, nil
}

func (fakeSource) ListChangedFiles(context.Context, string, string, int) ([]githubapi.ChangedFile, error) {
	return nil, nil
}

func (fakeSource) GetFileContent(context.Context, string, string, string, string) (string, error) {
	return "", nil
}

func (fakeSource) VerifyRepository(context.Context, string, string) error {
	return nil
}

type fakeWaiter struct{}

func (fakeWaiter) Await(context.Context, string, string, int, time.Duration) (*review.Result, error) {
	return &review.Result{}, nil
}

type fakeRunner struct{}

func (fakeRunner) Execute(context.Context, *sandbox.Request) (*models.TestRunResult, error) {
	return &models.TestRunResult{Status: models.TestRunPassed}, nil
}

type fakeScorer struct{}

func (fakeScorer) Score(_ context.Context, input *scoring.Input) *models.RiskAssessment {
	return scoring.HeuristicAssessment(input.Findings, input.GeneratedTests)
}

type memoryReports struct {
	saved map[string]*models.Report
}

func (s *memoryReports) Save(_ context.Context, jobID string, report *models.Report) error {
	s.saved[jobID] = report
	return nil
}

func (s *memoryReports) Get(_ context.Context, jobID string) (*models.Report, error) {
	report, ok := s.saved[jobID]
	if !ok {
		return nil, analysis.ErrJobNotFound
	}
	return report, nil
}

func newTestHandler() *handlers.AnalyzeHandler {
	cfg := &appconfig.AnalyzerConfig{
		ReviewPollTimeoutSeconds: 1,
		SandboxTimeoutSeconds:    1,
	}
	manager := analysis.NewManager(
		fakeSource{}, fakeWaiter{}, fakeRunner{}, fakeScorer{},
		analysis.NewRegistry(),
		&memoryReports{saved: make(map[string]*models.Report)},
		2,
	)
	return handlers.NewAnalyzeHandler(cfg, manager)
}

func postAnalyze(t *testing.T, handler *handlers.AnalyzeHandler, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.Start(w, req)
	return w
}

func TestAnalyzeHandler_Start_Accepted(t *testing.T) {
	handler := newTestHandler()

	w := postAnalyze(t, handler, handlers.AnalyzeRequest{
		Owner:     "acme",
		Repo:      "svc",
		PRNumbers: []int{1, 2},
	})

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp handlers.AnalyzeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.NotEmpty(t, resp.JobID)
}

func TestAnalyzeHandler_Start_Validation(t *testing.T) {
	tests := []struct {
		name      string
		request   handlers.AnalyzeRequest
		wantField string
	}{
		{
			name:      "missing owner",
			request:   handlers.AnalyzeRequest{Repo: "svc", PRNumbers: []int{1}},
			wantField: "owner",
		},
		{
			name:      "missing repo",
			request:   handlers.AnalyzeRequest{Owner: "acme", PRNumbers: []int{1}},
			wantField: "repo",
		},
		{
			name:      "no pull requests",
			request:   handlers.AnalyzeRequest{Owner: "acme", Repo: "svc"},
			wantField: "prNumbers",
		},
		{
			name:      "non-positive pull request number",
			request:   handlers.AnalyzeRequest{Owner: "acme", Repo: "svc", PRNumbers: []int{0}},
			wantField: "prNumbers",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestHandler()
			w := postAnalyze(t, handler, tc.request)

			require.Equal(t, http.StatusBadRequest, w.Code)

			var resp handlers.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "validation_error", resp.Error)
			assert.Equal(t, tc.wantField, resp.Details["field"])
		})
	}
}

func TestAnalyzeHandler_Start_InvalidJSON(t *testing.T) {
	handler := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()

	handler.Start(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_json", resp.Error)
}

func TestAnalyzeHandler_StatusAndResults(t *testing.T) {
	handler := newTestHandler()

	w := postAnalyze(t, handler, handlers.AnalyzeRequest{
		Owner:     "acme",
		Repo:      "svc",
		PRNumbers: []int{1},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var started handlers.AnalyzeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analyze/{jobID}/status", handler.Status)
	mux.HandleFunc("GET /api/v1/analyze/{jobID}/results", handler.Results)

	// Poll status until the job finishes.
	deadline := time.After(5 * time.Second)
	var snapshot analysis.JobSnapshot
	for {
		select {
		case <-deadline:
			t.Fatal("job did not finish in time")
		case <-time.After(10 * time.Millisecond):
		}

		sw := httptest.NewRecorder()
		mux.ServeHTTP(sw, httptest.NewRequest(http.MethodGet, "/api/v1/analyze/"+started.JobID+"/status", nil))
		require.Equal(t, http.StatusOK, sw.Code)
		require.NoError(t, json.Unmarshal(sw.Body.Bytes(), &snapshot))
		if snapshot.Status.Terminal() {
			break
		}
	}
	require.Equal(t, analysis.JobCompleted, snapshot.Status)
	assert.Equal(t, 100, snapshot.Progress)

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/v1/analyze/"+started.JobID+"/results", nil))
	require.Equal(t, http.StatusOK, rw.Code)

	var report models.Report
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &report))
	assert.Equal(t, "acme/svc", report.Repository)
	require.Len(t, report.PullRequests, 1)
}

func TestAnalyzeHandler_Status_InvalidJobID(t *testing.T) {
	handler := newTestHandler()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analyze/{jobID}/status", handler.Status)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/analyze/not-an-id/status", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_job_id", resp.Error)
}

func TestAnalyzeHandler_Status_UnknownJob(t *testing.T) {
	handler := newTestHandler()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analyze/{jobID}/status", handler.Status)

	// A well-formed but unknown job ID.
	unknown := analysis.NewJobID().String()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/analyze/"+unknown+"/status", nil))

	require.Equal(t, http.StatusNotFound, w.Code)

	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job_not_found", resp.Error)
}
