package predict

import (
	"math"

	"exam-prep-service/internal/domain"
)

// fallbackConfidence is deliberately low: the linear model ignores behavioral
// signals entirely.
const fallbackConfidence = 0.3

// fallbackPrediction is the simplified in-process model used when the worker
// is unavailable or erroring: a weighted sum of subject masteries projected
// onto the marking scheme, with a flat ±10% band and a degraded-mode flag.
func fallbackPrediction(snapshot domain.TelemetrySnapshot, weights map[string]float64) domain.PredictionResult {
	var score float64
	breakdown := make(map[string]float64, len(snapshot.AcademicStates))
	for _, st := range snapshot.AcademicStates {
		w, ok := weights[st.Subject]
		if !ok {
			w = 1
		}
		contribution := st.Mastery * w * 2
		score += contribution
		breakdown[st.Subject] = round2(contribution)
	}
	score = round2(score)

	return domain.PredictionResult{
		Score:      score,
		Range:      domain.ScoreRange{Min: round2(score * 0.9), Max: round2(score * 1.1)},
		Confidence: fallbackConfidence,
		Flags:      []string{domain.FlagDegradedMode},
		Breakdown:  breakdown,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
