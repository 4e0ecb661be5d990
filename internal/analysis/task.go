package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pitabwire/util"

	"github.com/aircode610/ShipSure/internal/githubapi"
	"github.com/aircode610/ShipSure/internal/models"
	"github.com/aircode610/ShipSure/internal/review"
	"github.com/aircode610/ShipSure/internal/sandbox"
	"github.com/aircode610/ShipSure/internal/scoring"
)

// Stage is a state of the per-PR pipeline. Transitions are linear with
// skip edges; failed is reachable from any non-terminal stage.
type Stage string

const (
	StagePending        Stage = "pending"
	StageAwaitingReview Stage = "awaiting_review"
	StageRunningTests   Stage = "running_tests"
	StageScoring        Stage = "scoring"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// Options controls a task run.
type Options struct {
	// SkipTests bypasses the sandbox stage entirely; no TestRunResult is
	// ever produced for the task.
	SkipTests bool

	// SkipScoring bypasses AI scoring; the deterministic heuristic is
	// always used instead.
	SkipScoring bool

	// ReviewPollTimeout bounds the wait for the AI review.
	ReviewPollTimeout time.Duration

	// SandboxTimeout bounds the sandbox test run.
	SandboxTimeout time.Duration
}

// PRSource is the slice of the platform client a task reads from.
type PRSource interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*githubapi.PRInfo, error)
	ListChangedFiles(ctx context.Context, owner, repo string, number int) ([]githubapi.ChangedFile, error)
	GetFileContent(ctx context.Context, owner, repo, path, ref string) (string, error)
}

// ReviewAwaiter awaits the AI review for one PR.
type ReviewAwaiter interface {
	Await(ctx context.Context, owner, repo string, number int, timeout time.Duration) (*review.Result, error)
}

// RiskScorer produces a risk assessment; it never fails.
type RiskScorer interface {
	Score(ctx context.Context, input *scoring.Input) *models.RiskAssessment
}

// ProgressFunc is invoked on each stage transition.
type ProgressFunc func(prNumber int, stage Stage)

// Task runs the analysis pipeline for one pull request. Partial results
// accumulate as stages complete; a failure keeps whatever was collected
// but never a residual risk assessment.
type Task struct {
	owner  string
	repo   string
	number int

	source  PRSource
	waiter  ReviewAwaiter
	runner  sandbox.Runner
	scorer  RiskScorer
	onStage ProgressFunc

	stage      Stage
	info       *githubapi.PRInfo
	files      []githubapi.ChangedFile
	findings   []models.ReviewFinding
	tests      []models.GeneratedTest
	testRun    *models.TestRunResult
	assessment *models.RiskAssessment
}

// NewTask creates a task for one pull request.
func NewTask(
	owner, repo string,
	number int,
	source PRSource,
	waiter ReviewAwaiter,
	runner sandbox.Runner,
	scorer RiskScorer,
	onStage ProgressFunc,
) *Task {
	if onStage == nil {
		onStage = func(int, Stage) {}
	}
	return &Task{
		owner:   owner,
		repo:    repo,
		number:  number,
		source:  source,
		waiter:  waiter,
		runner:  runner,
		scorer:  scorer,
		onStage: onStage,
		stage:   StagePending,
	}
}

// Stage returns the task's current stage.
func (t *Task) Stage() Stage {
	return t.stage
}

// Run drives the pipeline to a terminal stage and returns the report
// entry for this PR. Failures are captured in the entry, never returned.
func (t *Task) Run(ctx context.Context, opts Options) *models.PullRequestReport {
	log := util.Log(ctx).With("pr", t.number)

	info, err := t.source.GetPullRequest(ctx, t.owner, t.repo, t.number)
	if err != nil {
		return t.fail(ctx, fmt.Errorf("fetch pull request: %w", err))
	}
	t.info = info

	// Changed files feed both the sandbox code bundle and the scoring
	// prompt. Losing them degrades those stages but is not fatal.
	files, err := t.source.ListChangedFiles(ctx, t.owner, t.repo, t.number)
	if err != nil {
		log.WithError(err).Warn("could not list changed files, continuing without them")
	} else {
		t.files = files
	}

	t.transition(StageAwaitingReview)
	reviewResult, err := t.waiter.Await(ctx, t.owner, t.repo, t.number, opts.ReviewPollTimeout)
	if err != nil {
		return t.fail(ctx, fmt.Errorf("await review: %w", err))
	}
	if reviewResult.TimedOut {
		log.Warn("review wait timed out, continuing with empty findings")
	} else {
		t.findings = reviewResult.Findings
		t.tests = reviewResult.GeneratedTests
	}

	if !opts.SkipTests && len(t.tests) > 0 {
		t.transition(StageRunningTests)
		result, runErr := t.runner.Execute(ctx, t.sandboxRequest(ctx, opts))
		if runErr != nil {
			return t.fail(ctx, fmt.Errorf("sandbox execution: %w", runErr))
		}
		t.testRun = result
	}

	t.transition(StageScoring)
	if opts.SkipScoring {
		t.assessment = scoring.HeuristicAssessment(t.findings, t.tests)
	} else {
		t.assessment = t.scorer.Score(ctx, t.scoringInput())
	}
	t.applyFindingUpdates()

	t.transition(StageDone)
	return t.report()
}

func (t *Task) transition(stage Stage) {
	t.stage = stage
	t.onStage(t.number, stage)
}

// fail moves the task to the failed state, keeping accumulated partial
// fields. A task that fails before scoring reports no risk assessment.
func (t *Task) fail(ctx context.Context, err error) *models.PullRequestReport {
	util.Log(ctx).WithError(err).Error("task failed", "pr", t.number, "stage", t.stage)
	t.assessment = nil
	t.transition(StageFailed)

	entry := t.report()
	entry.Error = err.Error()
	return entry
}

// sandboxRequest assembles the code and test bundles for the sandbox.
// Code file contents are fetched at the PR head; files that cannot be
// fetched are skipped.
func (t *Task) sandboxRequest(ctx context.Context, opts Options) *sandbox.Request {
	log := util.Log(ctx)

	codeFiles := make([]sandbox.File, 0, len(t.files))
	for _, f := range t.files {
		content, err := t.source.GetFileContent(ctx, t.owner, t.repo, f.Path, t.info.HeadSHA)
		if err != nil {
			log.WithError(err).Warn("skipping unfetchable file", "path", f.Path)
			continue
		}
		codeFiles = append(codeFiles, sandbox.File{Path: f.Path, Content: content})
	}

	testFiles := make([]sandbox.File, 0, len(t.tests))
	for _, test := range t.tests {
		if test.Code == "" {
			continue
		}
		testFiles = append(testFiles, sandbox.File{Path: test.Test, Content: test.Code})
	}

	return &sandbox.Request{
		TaskID:    fmt.Sprintf("%s-%s-%d", t.owner, t.repo, t.number),
		Language:  detectLanguage(t.files),
		CodeFiles: codeFiles,
		TestFiles: testFiles,
		Timeout:   opts.SandboxTimeout,
	}
}

func (t *Task) scoringInput() *scoring.Input {
	paths := make([]string, 0, len(t.files))
	for _, f := range t.files {
		paths = append(paths, f.Path)
	}

	return &scoring.Input{
		Title:          t.info.Title,
		Body:           t.info.Body,
		Files:          paths,
		Findings:       t.findings,
		GeneratedTests: t.tests,
		TestRun:        t.testRun,
	}
}

// applyFindingUpdates merges per-finding adjustments from the AI scorer
// into the report findings.
func (t *Task) applyFindingUpdates() {
	if t.assessment == nil || len(t.assessment.Updates) == 0 {
		return
	}

	for i, finding := range t.findings {
		update, ok := t.assessment.Updates[finding.Name]
		if !ok {
			continue
		}
		if update.Risk != nil && *update.Risk >= 0 && *update.Risk <= 100 {
			t.findings[i].Risk = *update.Risk
		}
		if update.Type != "" {
			t.findings[i].Type = update.Type
		}
		if update.Description != "" {
			t.findings[i].Description = update.Description
		}
	}
}

// report builds the entry for this PR in proportion to which stages ran.
func (t *Task) report() *models.PullRequestReport {
	entry := &models.PullRequestReport{
		ID:    t.number,
		Title: fmt.Sprintf("PR #%d", t.number),
		Link:  fmt.Sprintf("https://github.com/%s/%s/pull/%d", t.owner, t.repo, t.number),
	}

	if t.info != nil {
		entry.Title = t.info.Title
		entry.Link = t.info.HTMLURL
	}

	entry.Reviews = t.findings
	entry.Tests = t.tests
	entry.TestResults = t.testRun

	if t.assessment != nil {
		risk := t.assessment.Risk
		confidence := t.assessment.Confidence
		entry.Risk = &risk
		entry.Confidence = &confidence
		entry.Categories = t.assessment.Categories
		entry.SpecificRisks = t.assessment.SpecificRisks
	}

	return entry
}

// detectLanguage guesses the dominant language from changed file paths.
func detectLanguage(files []githubapi.ChangedFile) string {
	counts := map[string]int{}
	for _, f := range files {
		switch {
		case strings.HasSuffix(f.Path, ".go"):
			counts["go"]++
		case strings.HasSuffix(f.Path, ".py"):
			counts["python"]++
		case strings.HasSuffix(f.Path, ".js"), strings.HasSuffix(f.Path, ".jsx"):
			counts["javascript"]++
		case strings.HasSuffix(f.Path, ".ts"), strings.HasSuffix(f.Path, ".tsx"):
			counts["typescript"]++
		case strings.HasSuffix(f.Path, ".rb"):
			counts["ruby"]++
		}
	}

	best, bestCount := "python", 0
	for lang, count := range counts {
		if count > bestCount {
			best, bestCount = lang, count
		}
	}
	return best
}
