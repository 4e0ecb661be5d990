package githubapi

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/go-github/v71/github"
	"github.com/pitabwire/util"

	"github.com/aircode610/ShipSure/internal/models"
)

// ReviewState is the current AI-review output for one pull request.
type ReviewState struct {
	// Findings are the parsed review items, empty until the bot has reviewed.
	Findings []models.ReviewFinding

	// GeneratedTests are tests from the companion test PR, if one exists.
	GeneratedTests []models.GeneratedTest

	// TestPRNumber is the companion test PR, 0 if none was found.
	TestPRNumber int

	// TriggerRequested is true when a test-generation trigger comment was
	// already posted, so the waiter must not post another.
	TriggerRequested bool
}

// HasFindings reports whether the review has produced anything yet.
func (s *ReviewState) HasFindings() bool {
	return len(s.Findings) > 0
}

// Markers the reviewer bot uses in its comment bodies. The mapping onto
// severity types mirrors the dashboard's badge semantics.
var findingMarkers = []struct {
	marker   string
	severity models.SeverityType
}{
	{"potential issue", models.SeverityDanger},
	{"security concern", models.SeverityDanger},
	{"refactor suggestion", models.SeverityWarning},
	{"nitpick", models.SeverityWarning},
	{"outside diff range", models.SeverityWarning},
	{"lgtm", models.SeveritySuccess},
	{"verified", models.SeveritySuccess},
}

var riskScorePattern = regexp.MustCompile(`(?i)risk(?:\s+score)?[:\s]+(\d{1,3})`)

// Default risk scores when the bot comment does not carry an explicit one.
const (
	defaultDangerRisk  = 70
	defaultWarningRisk = 40
)

// GetReviewState fetches the AI-review output for a pull request: parsed
// findings from the bot's review comments, generated tests from the
// companion test PR, and whether a trigger was already requested.
func (c *Client) GetReviewState(ctx context.Context, owner, repo string, number int) (*ReviewState, error) {
	log := util.Log(ctx)

	comments, err := c.listComments(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}

	state := &ReviewState{}
	for _, comment := range comments {
		body := comment.GetBody()
		author := strings.ToLower(comment.GetUser().GetLogin())

		if strings.Contains(body, c.triggerCommand) {
			state.TriggerRequested = true
		}

		if strings.Contains(author, strings.ToLower(c.botLogin)) {
			state.Findings = append(state.Findings, parseFindings(body)...)
		}
	}

	testPR, err := c.findGeneratedTestPR(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	if testPR != 0 {
		state.TestPRNumber = testPR
		tests, testsErr := c.fetchGeneratedTests(ctx, owner, repo, testPR, number)
		if testsErr != nil {
			return nil, testsErr
		}
		state.GeneratedTests = tests
	}

	log.Debug("fetched review state",
		"pr", number,
		"findings", len(state.Findings),
		"generated_tests", len(state.GeneratedTests),
		"test_pr", state.TestPRNumber,
	)

	return state, nil
}

// TriggerReview asks the reviewer bot to generate unit tests for the PR.
// Idempotency is the caller's concern: check TriggerRequested first.
func (c *Client) TriggerReview(ctx context.Context, owner, repo string, number int) error {
	util.Log(ctx).Info("requesting test generation", "pr", number)
	return c.PostComment(ctx, owner, repo, number, c.triggerCommand)
}

func (c *Client) listComments(ctx context.Context, owner, repo string, number int) ([]*github.IssueComment, error) {
	var comments []*github.IssueComment
	err := c.call(ctx, func(ctx context.Context) error {
		opts := &github.IssueListCommentsOptions{
			ListOptions: github.ListOptions{PerPage: 100},
		}
		list, resp, listErr := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
		if classified := classify(resp, listErr); classified != nil {
			return classified
		}
		comments = list
		return nil
	})
	if err != nil {
		return nil, err
	}
	return comments, nil
}

// findGeneratedTestPR looks for an open companion PR by the reviewer bot
// that carries generated unit tests for the given PR.
func (c *Client) findGeneratedTestPR(ctx context.Context, owner, repo string, number int) (int, error) {
	var prs []*github.PullRequest
	err := c.call(ctx, func(ctx context.Context) error {
		opts := &github.PullRequestListOptions{
			State:       "open",
			ListOptions: github.ListOptions{PerPage: 100},
		}
		list, resp, listErr := c.gh.PullRequests.List(ctx, owner, repo, opts)
		if classified := classify(resp, listErr); classified != nil {
			return classified
		}
		prs = list
		return nil
	})
	if err != nil {
		return 0, err
	}

	ref := fmt.Sprintf("#%d", number)
	for _, pr := range prs {
		if !c.isGeneratedTestPR(pr) {
			continue
		}
		if strings.Contains(pr.GetBody(), ref) || strings.Contains(pr.GetTitle(), ref) {
			return pr.GetNumber(), nil
		}
	}
	return 0, nil
}

// fetchGeneratedTests turns the files of a companion test PR into
// GeneratedTest entries.
func (c *Client) fetchGeneratedTests(ctx context.Context, owner, repo string, testPR, sourcePR int) ([]models.GeneratedTest, error) {
	files, err := c.ListChangedFiles(ctx, owner, repo, testPR)
	if err != nil {
		return nil, err
	}

	tests := make([]models.GeneratedTest, 0, len(files))
	for _, f := range files {
		tests = append(tests, models.GeneratedTest{
			Test:   path.Base(f.Path),
			Reason: fmt.Sprintf("Generated by %s for PR #%d", c.botLogin, sourcePR),
			Code:   f.Patch,
		})
	}
	return tests, nil
}

// parseFindings extracts review findings from one bot comment body. A
// comment may carry several findings separated by marker lines.
func parseFindings(body string) []models.ReviewFinding {
	var findings []models.ReviewFinding

	sections := strings.Split(body, "\n")
	var current *models.ReviewFinding

	for _, line := range sections {
		lower := strings.ToLower(line)

		matched := false
		for _, m := range findingMarkers {
			if !strings.Contains(lower, m.marker) {
				continue
			}
			if current != nil {
				findings = append(findings, *current)
			}
			current = &models.ReviewFinding{
				Name: strings.TrimSpace(stripMarkdown(line)),
				Type: m.severity,
				Risk: defaultRiskFor(m.severity),
			}
			matched = true
			break
		}
		if matched {
			continue
		}

		if current == nil {
			continue
		}

		if match := riskScorePattern.FindStringSubmatch(line); match != nil {
			if risk, convErr := strconv.Atoi(match[1]); convErr == nil && risk <= 100 {
				current.Risk = risk
				if current.Type == models.SeveritySuccess {
					current.Risk = 0
				}
				continue
			}
		}

		if text := strings.TrimSpace(stripMarkdown(line)); text != "" {
			if current.Description != "" {
				current.Description += " "
			}
			current.Description += text
		}
	}

	if current != nil {
		findings = append(findings, *current)
	}
	return findings
}

func defaultRiskFor(severity models.SeverityType) int {
	switch severity {
	case models.SeverityDanger:
		return defaultDangerRisk
	case models.SeverityWarning:
		return defaultWarningRisk
	default:
		return 0
	}
}

// stripMarkdown removes the common emphasis characters the bot wraps its
// marker lines in.
func stripMarkdown(s string) string {
	return strings.Trim(s, "*_~` #")
}
