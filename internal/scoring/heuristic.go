package scoring

import (
	"github.com/aircode610/ShipSure/internal/models"
)

// Heuristic weights. Confidence starts from a neutral base and is pushed
// down by negative findings and up by positive signal; overall risk is the
// worst danger finding.
const (
	heuristicBase        = 60.0
	successWeight        = 6.0
	generatedTestWeight  = 2.0
	warningPenalty       = 8.0
	dangerPenalty        = 18.0
	maxDangerRiskPenalty = 0.12
)

// HeuristicAssessment computes the deterministic fallback assessment. It
// is a pure function of the findings and generated tests: the same inputs
// always produce the same scores.
func HeuristicAssessment(findings []models.ReviewFinding, tests []models.GeneratedTest) *models.RiskAssessment {
	var successCount, warningCount, dangerCount int
	maxDangerRisk := 0

	for _, f := range findings {
		switch f.Type {
		case models.SeveritySuccess:
			successCount++
		case models.SeverityWarning:
			warningCount++
		case models.SeverityDanger:
			dangerCount++
			if f.Risk > maxDangerRisk {
				maxDangerRisk = f.Risk
			}
		}
	}

	confidence := heuristicBase +
		successWeight*float64(successCount) +
		generatedTestWeight*float64(len(tests)) -
		warningPenalty*float64(warningCount) -
		dangerPenalty*float64(dangerCount) -
		maxDangerRiskPenalty*float64(maxDangerRisk)

	return &models.RiskAssessment{
		Risk:       maxDangerRisk,
		Confidence: int(clamp(confidence, 0, 100)),
		Reasoning:  "Deterministic assessment from review findings and generated tests.",
		Heuristic:  true,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
