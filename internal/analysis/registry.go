package analysis

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Registry errors.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed yet")
)

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobError
}

// JobSnapshot is the externally visible state of one job. Snapshots are
// written only by the job manager; readers always get copies.
type JobSnapshot struct {
	ID         string    `json:"jobId"`
	Repository string    `json:"repository"`
	PRNumbers  []int     `json:"prNumbers"`
	Status     JobStatus `json:"status"`
	Progress   int       `json:"progress"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
	Error      string    `json:"error,omitempty"`
}

// Registry maps job IDs to job state. It has an explicit lifecycle so
// tests construct isolated instances; the Redis-backed implementation in
// the store package shares state across processes.
type Registry interface {
	Put(ctx context.Context, snapshot *JobSnapshot) error
	Get(ctx context.Context, id string) (*JobSnapshot, error)
}

// MemoryRegistry is the in-process registry used by default.
type MemoryRegistry struct {
	mu   sync.RWMutex
	jobs map[string]JobSnapshot
}

// NewRegistry creates an empty in-memory registry.
func NewRegistry() *MemoryRegistry {
	return &MemoryRegistry{jobs: make(map[string]JobSnapshot)}
}

// Put stores a copy of the snapshot.
func (r *MemoryRegistry) Put(_ context.Context, snapshot *JobSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[snapshot.ID] = *snapshot
	return nil
}

// Get returns a copy of the snapshot, or ErrJobNotFound.
func (r *MemoryRegistry) Get(_ context.Context, id string) (*JobSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &snapshot, nil
}
