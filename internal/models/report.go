// Package models defines the report document produced for every analysis
// job and the intermediate results collected while a pull request moves
// through the pipeline. The JSON shape here is the contract with the
// dashboard; fields that were never evaluated are omitted rather than
// written as zero values.
package models

import "time"

// SeverityType classifies a single review finding.
type SeverityType string

const (
	SeverityDanger  SeverityType = "danger"
	SeverityWarning SeverityType = "warning"
	SeveritySuccess SeverityType = "success"
)

// ReviewFinding is one checkable item surfaced by the AI reviewer.
// Immutable once fetched; risk is only meaningful for danger and warning.
type ReviewFinding struct {
	Name        string       `json:"name"`
	Type        SeverityType `json:"type"`
	Risk        int          `json:"risk,omitempty"`
	Description string       `json:"description"`
}

// GeneratedTest is one test the AI reviewer proposed for a pull request.
type GeneratedTest struct {
	Test   string `json:"test"`
	Reason string `json:"reason"`
	Code   string `json:"code,omitempty"`
}

// TestRunStatus is the outcome class of a sandbox test run.
type TestRunStatus string

const (
	TestRunPassed  TestRunStatus = "passed"
	TestRunFailed  TestRunStatus = "failed"
	TestRunTimeout TestRunStatus = "timeout"
	TestRunError   TestRunStatus = "error"
)

// TestRunResult is the outcome of running a PR's tests in a sandbox.
// ExitCode is absent on timeout and on provisioning errors.
type TestRunResult struct {
	Status     TestRunStatus `json:"status"`
	ExitCode   *int          `json:"exitCode,omitempty"`
	Output     string        `json:"output"`
	DurationMS int64         `json:"durationMs,omitempty"`
}

// RiskCategories is the fixed category breakdown of a risk assessment.
type RiskCategories struct {
	Security        int `json:"security"`
	Performance     int `json:"performance"`
	Maintainability int `json:"maintainability"`
	Reliability     int `json:"reliability"`
	Compatibility   int `json:"compatibility"`
}

// RiskSeverity grades a specific risk item.
type RiskSeverity string

const (
	RiskCritical RiskSeverity = "critical"
	RiskHigh     RiskSeverity = "high"
	RiskMedium   RiskSeverity = "medium"
	RiskLow      RiskSeverity = "low"
)

// SpecificRisk is one concrete, actionable risk item.
type SpecificRisk struct {
	Category       string       `json:"category"`
	Severity       RiskSeverity `json:"severity"`
	Description    string       `json:"description"`
	Impact         string       `json:"impact"`
	Recommendation string       `json:"recommendation"`
}

// FindingUpdate carries per-finding adjustments from the AI scorer.
type FindingUpdate struct {
	Risk        *int         `json:"risk,omitempty"`
	Type        SeverityType `json:"type,omitempty"`
	Description string       `json:"description,omitempty"`
}

// RiskAssessment is the final scored verdict for one pull request.
// Produced exactly once per task, either by the AI path or by the
// deterministic heuristic.
type RiskAssessment struct {
	Risk          int                      `json:"risk"`
	Confidence    int                      `json:"confidence"`
	Reasoning     string                   `json:"reasoning,omitempty"`
	Categories    *RiskCategories          `json:"riskCategories,omitempty"`
	SpecificRisks []SpecificRisk           `json:"specificRisks,omitempty"`
	Updates       map[string]FindingUpdate `json:"-"`
	Heuristic     bool                     `json:"-"`
}

// PullRequestReport is one PR's entry in the final report. Optional
// sections are nil when their stage was skipped or failed; Error is set
// when the task ended in a failure.
type PullRequestReport struct {
	ID            int             `json:"id"`
	Title         string          `json:"title"`
	Link          string          `json:"link"`
	Risk          *int            `json:"risk,omitempty"`
	Confidence    *int            `json:"confidence,omitempty"`
	Reviews       []ReviewFinding `json:"coderabbitReviews,omitempty"`
	Tests         []GeneratedTest `json:"generatedTests,omitempty"`
	Categories    *RiskCategories `json:"riskCategories,omitempty"`
	SpecificRisks []SpecificRisk  `json:"specificRisks,omitempty"`
	TestResults   *TestRunResult  `json:"testResults,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Report is the persisted document for one analysis job.
type Report struct {
	Repository   string              `json:"repository"`
	ProcessedAt  time.Time           `json:"processedAt"`
	PullRequests []PullRequestReport `json:"pullRequests"`
}

// PullRequest is a lightweight listing entry for the selection UI.
type PullRequest struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	HTMLURL   string    `json:"html_url"`
	User      string    `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository is a lightweight listing entry for the selection UI.
type Repository struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Owner       string    `json:"owner"`
	Description string    `json:"description"`
	Private     bool      `json:"private"`
	UpdatedAt   time.Time `json:"updated_at"`
}
