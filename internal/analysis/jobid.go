// Package analysis contains the per-PR pipeline state machine, the job
// manager that owns a batch of tasks for one repository, and the
// aggregation of finished tasks into the final report.
package analysis

import (
	"fmt"

	"github.com/rs/xid"
)

// JobID identifies one analysis job. Backed by xid: sortable by creation
// time, URL-safe, no coordination required.
type JobID struct {
	id xid.ID
}

// NewJobID generates a new job ID.
func NewJobID() JobID {
	return JobID{id: xid.New()}
}

// ParseJobID parses a job ID from its string form.
func ParseJobID(s string) (JobID, error) {
	id, err := xid.FromString(s)
	if err != nil {
		return JobID{}, fmt.Errorf("invalid job ID %q: %w", s, err)
	}
	return JobID{id: id}, nil
}

// String returns the string representation.
func (j JobID) String() string {
	return j.id.String()
}

// IsZero reports whether the ID is unset.
func (j JobID) IsZero() bool {
	return j.id.IsZero()
}

// MarshalText implements encoding.TextMarshaler.
func (j JobID) MarshalText() ([]byte, error) {
	return []byte(j.id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (j *JobID) UnmarshalText(data []byte) error {
	parsed, err := ParseJobID(string(data))
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}
