// Package sandbox executes a pull request's test suite in an ephemeral,
// isolated environment. The lifecycle is fixed regardless of outcome:
// provision, upload files, install dependencies, run tests with a timeout,
// capture bounded output, tear down. Teardown runs on every exit path.
package sandbox

import (
	"context"
	"time"

	"github.com/aircode610/ShipSure/internal/models"
)

// File is one file to place into the sandbox workspace.
type File struct {
	Path    string
	Content string
}

// Request describes one sandbox execution.
type Request struct {
	// TaskID names the workspace and container for this run.
	TaskID string

	// Language selects the image and test command.
	Language string

	// CodeFiles is the pull request's code bundle.
	CodeFiles []File

	// TestFiles is the generated test bundle.
	TestFiles []File

	// Timeout bounds the test run. The run is never allowed to block
	// past it; expiry yields a timeout result, not an error.
	Timeout time.Duration
}

// Runner executes a test bundle in an isolated environment.
type Runner interface {
	Execute(ctx context.Context, req *Request) (*models.TestRunResult, error)
}

// truncateOutput bounds captured output, appending a marker when cut.
func truncateOutput(output string, capBytes int) string {
	if capBytes <= 0 || len(output) <= capBytes {
		return output
	}
	return output[:capBytes] + "\n... [output truncated]"
}
