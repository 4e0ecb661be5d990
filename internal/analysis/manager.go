package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"golang.org/x/sync/errgroup"

	"github.com/aircode610/ShipSure/internal/githubapi"
	"github.com/aircode610/ShipSure/internal/models"
	"github.com/aircode610/ShipSure/internal/sandbox"
)

// ErrNoPullRequests is returned when a start request selects nothing.
var ErrNoPullRequests = errors.New("no pull requests selected for analysis")

// Stage weights for progress accounting. A task's progress contribution
// is the sum of weights of the stages it has completed.
const (
	weightReview  = 3
	weightTests   = 4
	weightScoring = 3
)

// Source is the platform surface the manager and its tasks need.
type Source interface {
	PRSource
	VerifyRepository(ctx context.Context, owner, repo string) error
}

// ReportStore persists finished reports keyed by job ID.
type ReportStore interface {
	Save(ctx context.Context, jobID string, report *models.Report) error
	Get(ctx context.Context, jobID string) (*models.Report, error)
}

// StartRequest describes one analysis job.
type StartRequest struct {
	Owner     string
	Repo      string
	PRNumbers []int
	Options   Options
}

// Manager owns the jobs of this process: it creates one task per selected
// PR, bounds their concurrency, folds stage transitions into aggregate
// progress and assembles the final report. Progress fields are mutated
// only by the manager under its lock; tasks report transitions through a
// callback, never by touching shared state.
type Manager struct {
	source   Source
	waiter   ReviewAwaiter
	runner   sandbox.Runner
	scorer   RiskScorer
	registry Registry
	reports  ReportStore

	maxConcurrent int

	mu   sync.Mutex
	jobs map[string]*jobState
}

// jobState is the manager's private accounting for one running job.
type jobState struct {
	snapshot    JobSnapshot
	totalWeight int
	taskWeight  map[int]int // completed weight per PR
	cancel      context.CancelFunc
}

// NewManager wires a job manager.
func NewManager(
	source Source,
	waiter ReviewAwaiter,
	runner sandbox.Runner,
	scorer RiskScorer,
	registry Registry,
	reports ReportStore,
	maxConcurrent int,
) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Manager{
		source:        source,
		waiter:        waiter,
		runner:        runner,
		scorer:        scorer,
		registry:      registry,
		reports:       reports,
		maxConcurrent: maxConcurrent,
		jobs:          make(map[string]*jobState),
	}
}

// Start creates a job and launches its tasks in the background. The
// returned job ID can be polled immediately.
func (m *Manager) Start(ctx context.Context, req StartRequest) (string, error) {
	if len(req.PRNumbers) == 0 {
		return "", ErrNoPullRequests
	}

	jobID := NewJobID().String()
	perTask := weightReview + weightScoring
	if !req.Options.SkipTests {
		perTask += weightTests
	}

	state := &jobState{
		snapshot: JobSnapshot{
			ID:         jobID,
			Repository: fmt.Sprintf("%s/%s", req.Owner, req.Repo),
			PRNumbers:  req.PRNumbers,
			Status:     JobQueued,
			Message:    "Analysis queued",
			CreatedAt:  time.Now(),
		},
		totalWeight: perTask * len(req.PRNumbers),
		taskWeight:  make(map[int]int, len(req.PRNumbers)),
	}

	// The job outlives the start request; cancellation is explicit.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	state.cancel = cancel

	m.mu.Lock()
	m.jobs[jobID] = state
	m.mu.Unlock()

	if err := m.registry.Put(ctx, &state.snapshot); err != nil {
		cancel()
		m.mu.Lock()
		delete(m.jobs, jobID)
		m.mu.Unlock()
		return "", fmt.Errorf("register job: %w", err)
	}

	go m.run(runCtx, jobID, req)

	return jobID, nil
}

// Status returns the job's current snapshot.
func (m *Manager) Status(ctx context.Context, jobID string) (*JobSnapshot, error) {
	return m.registry.Get(ctx, jobID)
}

// Results returns the finished report for a completed job.
func (m *Manager) Results(ctx context.Context, jobID string) (*models.Report, error) {
	snapshot, err := m.registry.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if snapshot.Status != JobCompleted {
		return nil, ErrJobNotCompleted
	}
	return m.reports.Get(ctx, jobID)
}

// Cancel stops launching new tasks for a job. In-flight sandbox runs are
// allowed to reach their own timeout so teardown still happens.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	state.cancel()
	return nil
}

// run drives the whole job to a terminal status.
func (m *Manager) run(ctx context.Context, jobID string, req StartRequest) {
	log := util.Log(ctx).With("job_id", jobID, "repository", req.Owner+"/"+req.Repo)

	m.update(ctx, jobID, func(s *JobSnapshot) {
		s.Status = JobRunning
		s.Message = "Verifying repository access"
	})

	// Fatal setup errors abort the job before any task starts.
	if err := m.source.VerifyRepository(ctx, req.Owner, req.Repo); err != nil {
		log.WithError(err).Error("job setup failed")
		m.update(ctx, jobID, func(s *JobSnapshot) {
			s.Status = JobError
			s.Error = err.Error()
			s.Message = setupFailureMessage(err)
		})
		return
	}

	m.update(ctx, jobID, func(s *JobSnapshot) {
		s.Message = fmt.Sprintf("Analyzing %d pull request(s)", len(req.PRNumbers))
	})

	entries := make([]*models.PullRequestReport, len(req.PRNumbers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxConcurrent)

	for i, number := range req.PRNumbers {
		g.Go(func() error {
			// Cancellation takes effect between task boundaries.
			if gctx.Err() != nil {
				entries[i] = &models.PullRequestReport{
					ID:    number,
					Title: fmt.Sprintf("PR #%d", number),
					Link:  fmt.Sprintf("https://github.com/%s/%s/pull/%d", req.Owner, req.Repo, number),
					Error: "analysis cancelled before this pull request started",
				}
				return nil
			}

			entries[i] = m.runTask(gctx, jobID, req, number)
			return nil
		})
	}
	_ = g.Wait()

	// Terminal writes must land even when the job context was cancelled:
	// a cancelled job still finishes with its partial report.
	finishCtx := context.WithoutCancel(ctx)

	report := AssembleReport(req.Owner+"/"+req.Repo, entries)
	if err := m.reports.Save(finishCtx, jobID, report); err != nil {
		log.WithError(err).Error("failed to persist report")
		m.update(ctx, jobID, func(s *JobSnapshot) {
			s.Status = JobError
			s.Error = err.Error()
			s.Message = "Failed to persist results"
		})
		return
	}

	m.update(ctx, jobID, func(s *JobSnapshot) {
		s.Status = JobCompleted
		s.Progress = 100
		s.Message = fmt.Sprintf("Analysis complete, processed %d pull request(s)", len(report.PullRequests))
	})

	log.Info("job completed", "pull_requests", len(report.PullRequests))
}

// runTask runs one task, confining panics to that task so siblings and
// the job itself are unaffected.
func (m *Manager) runTask(ctx context.Context, jobID string, req StartRequest, number int) (entry *models.PullRequestReport) {
	defer func() {
		if r := recover(); r != nil {
			util.Log(ctx).Error("task panicked", "pr", number, "panic", r)
			entry = &models.PullRequestReport{
				ID:    number,
				Title: fmt.Sprintf("PR #%d", number),
				Link:  fmt.Sprintf("https://github.com/%s/%s/pull/%d", req.Owner, req.Repo, number),
				Error: fmt.Sprintf("unexpected error: %v", r),
			}
		}
	}()

	task := NewTask(
		req.Owner, req.Repo, number,
		m.source, m.waiter, m.runner, m.scorer,
		m.progressFunc(ctx, jobID, req.Options),
	)
	return task.Run(ctx, req.Options)
}

// progressFunc folds one task's stage transitions into job progress.
func (m *Manager) progressFunc(ctx context.Context, jobID string, opts Options) ProgressFunc {
	prefix := stagePrefix(opts)

	return func(prNumber int, stage Stage) {
		completed, ok := prefix[stage]
		if !ok {
			return
		}

		m.mu.Lock()
		state, exists := m.jobs[jobID]
		if !exists {
			m.mu.Unlock()
			return
		}

		if completed > state.taskWeight[prNumber] {
			state.taskWeight[prNumber] = completed
		}

		var sum, furthest, furthestPR int
		for pr, w := range state.taskWeight {
			sum += w
			if w > furthest {
				furthest, furthestPR = w, pr
			}
		}

		progress := 0
		if state.totalWeight > 0 {
			progress = sum * 100 / state.totalWeight
		}
		// Progress never moves backwards, and 100 is reserved for the
		// completed status.
		if progress > 99 {
			progress = 99
		}
		if progress > state.snapshot.Progress {
			state.snapshot.Progress = progress
		}
		if stage != StageFailed {
			state.snapshot.Message = fmt.Sprintf("PR #%d: %s", furthestPR, stageMessage(stage))
		}
		snapshot := state.snapshot
		m.mu.Unlock()

		if err := m.registry.Put(context.WithoutCancel(ctx), &snapshot); err != nil {
			util.Log(ctx).WithError(err).Warn("failed to update job progress", "job_id", jobID)
		}
	}
}

// update mutates the snapshot under the manager lock and writes it
// through to the registry.
func (m *Manager) update(ctx context.Context, jobID string, mutate func(*JobSnapshot)) {
	m.mu.Lock()
	state, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	mutate(&state.snapshot)
	snapshot := state.snapshot
	m.mu.Unlock()

	// Registry writes outlive job cancellation so terminal states land.
	if err := m.registry.Put(context.WithoutCancel(ctx), &snapshot); err != nil {
		util.Log(ctx).WithError(err).Warn("failed to update job", "job_id", jobID)
	}
}

// stagePrefix maps a stage to the total weight completed when the task
// enters it. A task that skips the sandbox stage (no generated tests)
// still earns its weight when it reaches scoring.
func stagePrefix(opts Options) map[Stage]int {
	prefix := map[Stage]int{
		StageAwaitingReview: 0,
	}

	completed := weightReview
	if !opts.SkipTests {
		prefix[StageRunningTests] = completed
		completed += weightTests
	}
	prefix[StageScoring] = completed
	completed += weightScoring
	prefix[StageDone] = completed

	return prefix
}

func stageMessage(stage Stage) string {
	switch stage {
	case StageAwaitingReview:
		return "waiting for AI review"
	case StageRunningTests:
		return "running tests in sandbox"
	case StageScoring:
		return "scoring risk"
	case StageDone:
		return "done"
	default:
		return string(stage)
	}
}

func setupFailureMessage(err error) string {
	switch {
	case errors.Is(err, githubapi.ErrAuthentication):
		return "Invalid credentials"
	case errors.Is(err, githubapi.ErrNotFound):
		return "Repository not found"
	default:
		return "Job setup failed"
	}
}
