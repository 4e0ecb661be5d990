package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aircode610/ShipSure/internal/githubapi"
	"github.com/aircode610/ShipSure/internal/models"
	"github.com/aircode610/ShipSure/internal/review"
	"github.com/aircode610/ShipSure/internal/sandbox"
	"github.com/aircode610/ShipSure/internal/scoring"
)

// stubSource is a scripted PRSource with per-method errors.
type stubSource struct {
	mu sync.Mutex

	info        *githubapi.PRInfo
	infoErr     error
	files       []githubapi.ChangedFile
	filesErr    error
	contents    map[string]string
	contentErr  error
	verifyErr   error
	verifyCalls int
}

func (s *stubSource) GetPullRequest(_ context.Context, _, _ string, number int) (*githubapi.PRInfo, error) {
	if s.infoErr != nil {
		return nil, s.infoErr
	}
	if s.info != nil {
		return s.info, nil
	}
	return &githubapi.PRInfo{
		Number:  number,
		Title:   "Adjust rate limiter",
		HTMLURL: "https://github.com/acme/svc/pull/1",
		HeadSHA: "abc123",
	}, nil
}

func (s *stubSource) ListChangedFiles(_ context.Context, _, _ string, _ int) ([]githubapi.ChangedFile, error) {
	return s.files, s.filesErr
}

func (s *stubSource) GetFileContent(_ context.Context, _, _, path, _ string) (string, error) {
	if s.contentErr != nil {
		return "", s.contentErr
	}
	return s.contents[path], nil
}

func (s *stubSource) VerifyRepository(_ context.Context, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyCalls++
	return s.verifyErr
}

// stubWaiter returns a fixed review result.
type stubWaiter struct {
	result *review.Result
	err    error
}

func (w *stubWaiter) Await(_ context.Context, _, _ string, _ int, _ time.Duration) (*review.Result, error) {
	if w.err != nil {
		return nil, w.err
	}
	if w.result != nil {
		return w.result, nil
	}
	return &review.Result{}, nil
}

// stubRunner records requests and returns a fixed result.
type stubRunner struct {
	mu       sync.Mutex
	requests []*sandbox.Request
	result   *models.TestRunResult
	err      error
}

func (r *stubRunner) Execute(_ context.Context, req *sandbox.Request) (*models.TestRunResult, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if r.result != nil {
		return r.result, nil
	}
	return &models.TestRunResult{Status: models.TestRunPassed, Output: "ok"}, nil
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// stubScorer returns a fixed assessment.
type stubScorer struct {
	assessment *models.RiskAssessment
}

func (s *stubScorer) Score(_ context.Context, input *scoring.Input) *models.RiskAssessment {
	if s.assessment != nil {
		return s.assessment
	}
	return scoring.HeuristicAssessment(input.Findings, input.GeneratedTests)
}

func reviewWithTests() *review.Result {
	return &review.Result{
		Findings: []models.ReviewFinding{
			{Name: "Unbounded retry", Type: models.SeverityDanger, Risk: 70, Description: "retries forever"},
		},
		GeneratedTests: []models.GeneratedTest{
			{Test: "test_retry_bound.py", Reason: "covers the loop", Code: "def test(): pass"},
		},
		TestPRNumber: 9,
	}
}

func TestTask_Run_FullPipeline(t *testing.T) {
	source := &stubSource{
		files:    []githubapi.ChangedFile{{Path: "svc/retry.py"}},
		contents: map[string]string{"svc/retry.py": "RETRIES = 3"},
	}
	waiter := &stubWaiter{result: reviewWithTests()}
	runner := &stubRunner{}
	scorer := &stubScorer{}

	var stages []Stage
	task := NewTask("acme", "svc", 1, source, waiter, runner, scorer, func(_ int, stage Stage) {
		stages = append(stages, stage)
	})

	entry := task.Run(context.Background(), Options{})

	require.NotNil(t, entry)
	assert.Equal(t, StageDone, task.Stage())
	assert.Equal(t, []Stage{StageAwaitingReview, StageRunningTests, StageScoring, StageDone}, stages)

	assert.Equal(t, 1, entry.ID)
	assert.Equal(t, "Adjust rate limiter", entry.Title)
	assert.Empty(t, entry.Error)
	require.NotNil(t, entry.Risk)
	require.NotNil(t, entry.Confidence)
	require.NotNil(t, entry.TestResults)
	assert.Equal(t, models.TestRunPassed, entry.TestResults.Status)
	require.Len(t, entry.Reviews, 1)
	require.Len(t, entry.Tests, 1)

	require.Equal(t, 1, runner.callCount())
	req := runner.requests[0]
	assert.Equal(t, "acme-svc-1", req.TaskID)
	assert.Equal(t, "python", req.Language)
	require.Len(t, req.CodeFiles, 1)
	assert.Equal(t, "RETRIES = 3", req.CodeFiles[0].Content)
	require.Len(t, req.TestFiles, 1)
}

func TestTask_Run_FetchFailureIsTerminal(t *testing.T) {
	source := &stubSource{infoErr: errors.New("boom")}
	task := NewTask("acme", "svc", 7, source, &stubWaiter{}, &stubRunner{}, &stubScorer{}, nil)

	entry := task.Run(context.Background(), Options{})

	require.NotNil(t, entry)
	assert.Equal(t, StageFailed, task.Stage())
	assert.Contains(t, entry.Error, "fetch pull request")
	// Failed before scoring: no residual assessment.
	assert.Nil(t, entry.Risk)
	assert.Nil(t, entry.Confidence)
	// The entry still identifies the PR.
	assert.Equal(t, 7, entry.ID)
	assert.Equal(t, "PR #7", entry.Title)
}

func TestTask_Run_ReviewTimeoutContinues(t *testing.T) {
	waiter := &stubWaiter{result: &review.Result{TimedOut: true}}
	runner := &stubRunner{}
	task := NewTask("acme", "svc", 2, &stubSource{}, waiter, runner, &stubScorer{}, nil)

	entry := task.Run(context.Background(), Options{})

	assert.Equal(t, StageDone, task.Stage())
	assert.Empty(t, entry.Error)
	assert.Empty(t, entry.Reviews)
	assert.Empty(t, entry.Tests)
	// No generated tests means no sandbox run.
	assert.Equal(t, 0, runner.callCount())
	// Scoring still happens on empty findings.
	require.NotNil(t, entry.Confidence)
	assert.Equal(t, 60, *entry.Confidence)
}

func TestTask_Run_SkipTests(t *testing.T) {
	waiter := &stubWaiter{result: reviewWithTests()}
	runner := &stubRunner{}
	task := NewTask("acme", "svc", 3, &stubSource{}, waiter, runner, &stubScorer{}, nil)

	entry := task.Run(context.Background(), Options{SkipTests: true})

	assert.Equal(t, StageDone, task.Stage())
	assert.Equal(t, 0, runner.callCount())
	assert.Nil(t, entry.TestResults)
	require.NotNil(t, entry.Risk)
}

func TestTask_Run_SkipScoringUsesHeuristic(t *testing.T) {
	waiter := &stubWaiter{result: reviewWithTests()}
	scorer := &stubScorer{assessment: &models.RiskAssessment{Risk: 99, Confidence: 99}}
	task := NewTask("acme", "svc", 4, &stubSource{}, waiter, &stubRunner{}, scorer, nil)

	entry := task.Run(context.Background(), Options{SkipTests: true, SkipScoring: true})

	require.NotNil(t, entry.Risk)
	// 1 danger finding at risk 70; the stub scorer was bypassed.
	assert.Equal(t, 70, *entry.Risk)
}

func TestTask_Run_SandboxErrorIsTerminal(t *testing.T) {
	waiter := &stubWaiter{result: reviewWithTests()}
	runner := &stubRunner{err: errors.New("docker daemon unreachable")}
	task := NewTask("acme", "svc", 5, &stubSource{}, waiter, runner, &stubScorer{}, nil)

	entry := task.Run(context.Background(), Options{})

	assert.Equal(t, StageFailed, task.Stage())
	assert.Contains(t, entry.Error, "sandbox execution")
	assert.Nil(t, entry.Risk)
	// Findings collected before the failure survive in the entry.
	require.Len(t, entry.Reviews, 1)
}

func TestTask_Run_ChangedFilesErrorDegrades(t *testing.T) {
	source := &stubSource{filesErr: errors.New("rate limited")}
	waiter := &stubWaiter{result: reviewWithTests()}
	runner := &stubRunner{}
	task := NewTask("acme", "svc", 6, source, waiter, runner, &stubScorer{}, nil)

	entry := task.Run(context.Background(), Options{})

	assert.Equal(t, StageDone, task.Stage())
	assert.Empty(t, entry.Error)
	require.Equal(t, 1, runner.callCount())
	assert.Empty(t, runner.requests[0].CodeFiles)
}

func TestTask_Run_AppliesFindingUpdates(t *testing.T) {
	waiter := &stubWaiter{result: reviewWithTests()}
	newRisk := 95
	scorer := &stubScorer{assessment: &models.RiskAssessment{
		Risk:       95,
		Confidence: 80,
		Updates: map[string]models.FindingUpdate{
			"Unbounded retry": {Risk: &newRisk, Description: "retries forever under load"},
		},
	}}
	task := NewTask("acme", "svc", 8, &stubSource{}, waiter, &stubRunner{}, scorer, nil)

	entry := task.Run(context.Background(), Options{SkipTests: true})

	require.Len(t, entry.Reviews, 1)
	assert.Equal(t, 95, entry.Reviews[0].Risk)
	assert.Equal(t, "retries forever under load", entry.Reviews[0].Description)
	assert.Equal(t, models.SeverityDanger, entry.Reviews[0].Type)
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name  string
		files []githubapi.ChangedFile
		want  string
	}{
		{
			name: "mostly go",
			files: []githubapi.ChangedFile{
				{Path: "main.go"}, {Path: "util.go"}, {Path: "setup.py"},
			},
			want: "go",
		},
		{
			name:  "typescript",
			files: []githubapi.ChangedFile{{Path: "src/app.tsx"}},
			want:  "typescript",
		},
		{
			name: "defaults to python",
			files: []githubapi.ChangedFile{
				{Path: "README.md"}, {Path: "Dockerfile"},
			},
			want: "python",
		},
		{
			name: "no files",
			want: "python",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, detectLanguage(tc.files))
		})
	}
}
