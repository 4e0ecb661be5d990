// Package review waits for the AI reviewer's output on one pull request,
// triggering test generation when it has not started yet. The wait is a
// bounded poll loop: hitting the timeout is a degraded result, never an
// error, so the parent task can continue with empty findings.
package review

import (
	"context"
	"time"

	"github.com/pitabwire/util"

	"github.com/aircode610/ShipSure/internal/githubapi"
	"github.com/aircode610/ShipSure/internal/models"
)

// Source is the slice of the platform client the waiter needs.
type Source interface {
	GetReviewState(ctx context.Context, owner, repo string, number int) (*githubapi.ReviewState, error)
	TriggerReview(ctx context.Context, owner, repo string, number int) error
}

// Result is the outcome of awaiting a review.
type Result struct {
	Findings       []models.ReviewFinding
	GeneratedTests []models.GeneratedTest
	TestPRNumber   int

	// TimedOut is true when the timeout elapsed before findings appeared.
	// Findings and GeneratedTests are empty in that case.
	TimedOut bool
}

const defaultPollInterval = 30 * time.Second

// Waiter polls the review state until findings appear or a timeout elapses.
type Waiter struct {
	source       Source
	pollInterval time.Duration
}

// NewWaiter creates a waiter polling at the given interval.
func NewWaiter(source Source, pollInterval time.Duration) *Waiter {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Waiter{
		source:       source,
		pollInterval: pollInterval,
	}
}

// Await ensures the PR has review findings, triggering generation at most
// once if absent, then polling until findings appear or timeout elapses.
// Errors are returned only for platform failures; an expired timeout
// yields a Result with TimedOut set.
func (w *Waiter) Await(ctx context.Context, owner, repo string, number int, timeout time.Duration) (*Result, error) {
	log := util.Log(ctx)

	state, err := w.source.GetReviewState(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}

	if state.HasFindings() {
		return resultFrom(state), nil
	}

	// Trigger once; a trigger observed in the review metadata means a
	// previous run already asked and we only wait.
	if !state.TriggerRequested {
		if triggerErr := w.source.TriggerReview(ctx, owner, repo, number); triggerErr != nil {
			return nil, triggerErr
		}
	} else {
		log.Debug("test generation already requested, skipping trigger", "pr", number)
	}

	// The timeout fires on its own timer so it holds even when shorter
	// than one poll interval.
	expired := time.NewTimer(timeout)
	defer expired.Stop()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-expired.C:
			log.Warn("review wait timed out", "pr", number, "timeout", timeout)
			return &Result{TimedOut: true}, nil
		case <-ticker.C:
			state, err = w.source.GetReviewState(ctx, owner, repo, number)
			if err != nil {
				return nil, err
			}
			if state.HasFindings() {
				return resultFrom(state), nil
			}

			log.Debug("review not ready yet", "pr", number)
		}
	}
}

func resultFrom(state *githubapi.ReviewState) *Result {
	return &Result{
		Findings:       state.Findings,
		GeneratedTests: state.GeneratedTests,
		TestPRNumber:   state.TestPRNumber,
	}
}
