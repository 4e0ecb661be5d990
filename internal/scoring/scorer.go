// Package scoring converts review findings, generated tests and a test
// run outcome into a RiskAssessment. The AI path asks an LLM for a
// structured JSON verdict; any failure or malformed response falls back
// to a deterministic heuristic, so scoring never fails outwardly.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/pitabwire/util"

	"github.com/aircode610/ShipSure/internal/models"
)

// ErrMalformedResponse marks an LLM response missing required fields.
var ErrMalformedResponse = errors.New("malformed scoring response")

const (
	defaultModel       = "gpt-4o"
	scoringTemperature = 0.3

	systemPrompt = "You are a security and code quality analyst. Analyze pull requests " +
		"and provide risk assessments based on code type, test coverage, and review findings."
)

// Input carries everything the scorer may consider for one pull request.
type Input struct {
	Title          string
	Body           string
	Files          []string
	Findings       []models.ReviewFinding
	GeneratedTests []models.GeneratedTest
	TestRun        *models.TestRunResult
}

// ChatCompleter is the slice of the OpenAI client the scorer uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Scorer produces risk assessments. With no API key configured it runs in
// heuristic-only mode.
type Scorer struct {
	llm   ChatCompleter
	model string
}

// NewScorer creates a scorer. An empty apiKey disables the AI path.
func NewScorer(apiKey, model string) *Scorer {
	if model == "" {
		model = defaultModel
	}

	s := &Scorer{model: model}
	if apiKey != "" {
		s.llm = openai.NewClient(apiKey)
	}
	return s
}

// newScorerWithClient wires a custom completion client, used by tests.
func newScorerWithClient(llm ChatCompleter, model string) *Scorer {
	return &Scorer{llm: llm, model: model}
}

// Score returns a RiskAssessment for the input. It never returns an
// error: LLM failures and malformed responses degrade to the heuristic.
func (s *Scorer) Score(ctx context.Context, input *Input) *models.RiskAssessment {
	log := util.Log(ctx)

	if s.llm == nil {
		return HeuristicAssessment(input.Findings, input.GeneratedTests)
	}

	assessment, err := s.scoreWithLLM(ctx, input)
	if err != nil {
		log.WithError(err).Warn("AI scoring failed, using heuristic fallback")
		return HeuristicAssessment(input.Findings, input.GeneratedTests)
	}
	return assessment
}

func (s *Scorer) scoreWithLLM(ctx context.Context, input *Input) (*models.RiskAssessment, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: scoringTemperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(input)},
		},
	}

	resp, err := s.llm.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	return parseResponse(resp.Choices[0].Message.Content)
}

// aiResponse mirrors the JSON shape requested in the prompt. Pointer
// fields distinguish absent from zero so validation can reject partial
// responses instead of merging them with heuristic values.
type aiResponse struct {
	Risk           *int                            `json:"risk"`
	Confidence     *int                            `json:"confidence"`
	Reasoning      string                          `json:"reasoning"`
	RiskCategories *models.RiskCategories          `json:"riskCategories"`
	SpecificRisks  []models.SpecificRisk           `json:"specificRisks"`
	ReviewUpdates  map[string]models.FindingUpdate `json:"reviewUpdates"`
}

// parseResponse validates and coerces the raw LLM output into a
// RiskAssessment. Any missing or out-of-range required field makes the
// whole response malformed; there is no partial merge.
func parseResponse(content string) (*models.RiskAssessment, error) {
	var parsed aiResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	if parsed.Risk == nil || parsed.Confidence == nil {
		return nil, fmt.Errorf("%w: missing risk or confidence", ErrMalformedResponse)
	}
	if *parsed.Risk < 0 || *parsed.Risk > 100 || *parsed.Confidence < 0 || *parsed.Confidence > 100 {
		return nil, fmt.Errorf("%w: score out of range", ErrMalformedResponse)
	}
	if parsed.RiskCategories == nil {
		return nil, fmt.Errorf("%w: missing risk categories", ErrMalformedResponse)
	}
	for _, risk := range parsed.SpecificRisks {
		switch risk.Severity {
		case models.RiskCritical, models.RiskHigh, models.RiskMedium, models.RiskLow:
		default:
			return nil, fmt.Errorf("%w: invalid severity %q", ErrMalformedResponse, risk.Severity)
		}
	}

	return &models.RiskAssessment{
		Risk:          *parsed.Risk,
		Confidence:    *parsed.Confidence,
		Reasoning:     parsed.Reasoning,
		Categories:    parsed.RiskCategories,
		SpecificRisks: parsed.SpecificRisks,
		Updates:       parsed.ReviewUpdates,
	}, nil
}
