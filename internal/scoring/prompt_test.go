package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aircode610/ShipSure/internal/models"
)

func TestExtractTestCounts(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantPassed int
		wantFailed int
	}{
		{
			name:       "pytest summary",
			output:     "===== 12 passed, 2 failed in 3.41s =====",
			wantPassed: 12,
			wantFailed: 2,
		},
		{
			name:       "pytest all passing",
			output:     "===== 7 passed in 0.92s =====",
			wantPassed: 7,
			wantFailed: 0,
		},
		{
			name:       "go test verbose output",
			output:     "--- PASS: TestFoo\n--- PASS: TestBar\n--- FAIL: TestBaz\nFAIL",
			wantPassed: 2,
			wantFailed: 1,
		},
		{
			name:       "unknown format",
			output:     "make: *** [test] Error 1",
			wantPassed: 0,
			wantFailed: 0,
		},
		{
			name:       "empty output",
			output:     "",
			wantPassed: 0,
			wantFailed: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			passed, failed := extractTestCounts(tc.output)
			assert.Equal(t, tc.wantPassed, passed)
			assert.Equal(t, tc.wantFailed, failed)
		})
	}
}

func TestClassifyCodeType(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{
			name:  "authentication files",
			files: []string{"internal/auth/token.go", "README.md"},
			want:  "authentication",
		},
		{
			name:  "payment files",
			files: []string{"billing/invoice.py"},
			want:  "payment",
		},
		{
			name:  "database files",
			files: []string{"migrations/0004_add_index.sql"},
			want:  "database",
		},
		{
			name:  "api files",
			files: []string{"service/handlers/users.go"},
			want:  "api",
		},
		{
			name:  "everything else",
			files: []string{"docs/guide.md", "Makefile"},
			want:  "general",
		},
		{
			name: "no files",
			want: "general",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyCodeType(tc.files))
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	input := &Input{
		Title: "Harden session checks",
		Body:  "Tightens token expiry handling.",
		Files: []string{"internal/auth/session.go"},
		Findings: []models.ReviewFinding{
			{Name: "Expiry bypass", Type: models.SeverityDanger, Risk: 85},
		},
		GeneratedTests: []models.GeneratedTest{
			{Test: "test_expired_token_rejected", Reason: "covers the bypass"},
		},
		TestRun: &models.TestRunResult{
			Status: models.TestRunPassed,
			Output: "===== 3 passed in 0.5s =====",
		},
	}

	prompt := buildPrompt(input)

	assert.Contains(t, prompt, "Harden session checks")
	assert.Contains(t, prompt, "Expiry bypass")
	assert.Contains(t, prompt, "test_expired_token_rejected")
	assert.Contains(t, prompt, "internal/auth/session.go")
	assert.Contains(t, prompt, "authentication")
}
