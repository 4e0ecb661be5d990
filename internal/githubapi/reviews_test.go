package githubapi

import (
	"context"
	"testing"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aircode610/ShipSure/internal/models"
)

func TestParseFindings(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []models.ReviewFinding
	}{
		{
			name: "no markers",
			body: "Thanks for the contribution!",
			want: nil,
		},
		{
			name: "danger finding with explicit risk",
			body: "**Potential issue: unbounded retry loop**\nThe loop never exits on repeated failures.\nRisk score: 85",
			want: []models.ReviewFinding{
				{
					Name:        "Potential issue: unbounded retry loop",
					Type:        models.SeverityDanger,
					Risk:        85,
					Description: "The loop never exits on repeated failures.",
				},
			},
		},
		{
			name: "warning gets default risk",
			body: "_Refactor suggestion_\nExtract the parsing into a helper.",
			want: []models.ReviewFinding{
				{
					Name:        "Refactor suggestion",
					Type:        models.SeverityWarning,
					Risk:        40,
					Description: "Extract the parsing into a helper.",
				},
			},
		},
		{
			name: "success finding has zero risk",
			body: "LGTM\nClean change.",
			want: []models.ReviewFinding{
				{
					Name:        "LGTM",
					Type:        models.SeveritySuccess,
					Risk:        0,
					Description: "Clean change.",
				},
			},
		},
		{
			name: "multiple findings in one comment",
			body: "**Security concern: token in logs**\nRisk: 90\n\n**Nitpick**\nRename the variable.",
			want: []models.ReviewFinding{
				{
					Name: "Security concern: token in logs",
					Type: models.SeverityDanger,
					Risk: 90,
				},
				{
					Name:        "Nitpick",
					Type:        models.SeverityWarning,
					Risk:        40,
					Description: "Rename the variable.",
				},
			},
		},
		{
			name: "out of range risk keeps the default",
			body: "**Potential issue**\nRisk: 250",
			want: []models.ReviewFinding{
				{
					Name:        "Potential issue",
					Type:        models.SeverityDanger,
					Risk:        70,
					Description: "Risk: 250",
				},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseFindings(tc.body))
		})
	}
}

func TestDefaultRiskFor(t *testing.T) {
	assert.Equal(t, 70, defaultRiskFor(models.SeverityDanger))
	assert.Equal(t, 40, defaultRiskFor(models.SeverityWarning))
	assert.Equal(t, 0, defaultRiskFor(models.SeveritySuccess))
}

func TestGetReviewState(t *testing.T) {
	defer gock.Off()

	gock.New("https://api.github.com").
		Get("/repos/acme/svc/issues/5/comments").
		Reply(200).
		JSON([]map[string]any{
			{
				"body": "@coderabbitai generate unit tests",
				"user": map[string]any{"login": "jordan"},
			},
			{
				"body": "**Potential issue: missing nil check**\nDereference without a guard.\nRisk: 80",
				"user": map[string]any{"login": "coderabbitai[bot]"},
			},
		})

	gock.New("https://api.github.com").
		Get("/repos/acme/svc/pulls").
		Reply(200).
		JSON([]map[string]any{
			{
				"number": 9,
				"title":  "Generated unit tests for PR #5",
				"body":   "Covers PR #5",
				"state":  "open",
				"user":   map[string]any{"login": "coderabbitai[bot]"},
			},
		})

	gock.New("https://api.github.com").
		Get("/repos/acme/svc/pulls/9/files").
		Reply(200).
		JSON([]map[string]any{
			{"filename": "tests/test_guard.py", "patch": "+def test_guard(): ..."},
		})

	c := newTestClient()
	state, err := c.GetReviewState(context.Background(), "acme", "svc", 5)

	require.NoError(t, err)
	assert.True(t, state.TriggerRequested)
	assert.True(t, state.HasFindings())
	require.Len(t, state.Findings, 1)
	assert.Equal(t, models.SeverityDanger, state.Findings[0].Type)
	assert.Equal(t, 80, state.Findings[0].Risk)

	assert.Equal(t, 9, state.TestPRNumber)
	require.Len(t, state.GeneratedTests, 1)
	assert.Equal(t, "test_guard.py", state.GeneratedTests[0].Test)
	assert.Contains(t, state.GeneratedTests[0].Reason, "PR #5")
}

func TestGetReviewState_NoReviewYet(t *testing.T) {
	defer gock.Off()

	gock.New("https://api.github.com").
		Get("/repos/acme/svc/issues/7/comments").
		Reply(200).
		JSON([]map[string]any{})

	gock.New("https://api.github.com").
		Get("/repos/acme/svc/pulls").
		Reply(200).
		JSON([]map[string]any{})

	c := newTestClient()
	state, err := c.GetReviewState(context.Background(), "acme", "svc", 7)

	require.NoError(t, err)
	assert.False(t, state.HasFindings())
	assert.False(t, state.TriggerRequested)
	assert.Zero(t, state.TestPRNumber)
}
