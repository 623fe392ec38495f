package predict

import (
	"math"

	"exam-prep-service/internal/domain"
)

// chartSamples is the number of points in the Gaussian series (-3σ to +3σ).
const chartSamples = 25

// FormatForDisplay shapes a prediction for the UI. Pure function. A
// disqualifying flag overrides everything: zero probability, no chart,
// regardless of the numeric score. Otherwise the score is bucketed into five
// fixed probability tiers, each with a severity color, and a Gaussian point
// series is derived for charting.
func FormatForDisplay(p domain.PredictionResult) domain.DisplayPrediction {
	if p.HasFlag(domain.FlagDisqualified) {
		return domain.DisplayPrediction{
			Score:        p.Score,
			Probability:  0,
			Narrative:    "Disqualified on current trajectory",
			Color:        "#7f1d1d",
			Confidence:   p.Confidence,
			Range:        p.Range,
			Disqualified: true,
		}
	}

	probability, narrative, color := tierFor(p.Score)
	return domain.DisplayPrediction{
		Score:       p.Score,
		Probability: probability,
		Narrative:   narrative,
		Color:       color,
		Confidence:  p.Confidence,
		Range:       p.Range,
		Chart:       gaussianSeries(p.Score, p.Range),
	}
}

func tierFor(score float64) (int, string, string) {
	switch {
	case score > 105:
		return 95, "Very likely to clear the cutoff", "#16a34a"
	case score > 98:
		return 80, "Likely to clear the cutoff", "#65a30d"
	case score > 88:
		return 55, "Borderline, could go either way", "#d97706"
	case score > 75:
		return 25, "Unlikely at current pace", "#ea580c"
	default:
		return 10, "Well below the projected cutoff", "#dc2626"
	}
}

// gaussianSeries samples a bell curve centered on the score, estimating the
// standard deviation as one sixth of the prediction range.
func gaussianSeries(mean float64, r domain.ScoreRange) []domain.ChartPoint {
	sigma := (r.Max - r.Min) / 6
	if sigma <= 0 {
		return nil
	}
	points := make([]domain.ChartPoint, 0, chartSamples)
	step := 6 * sigma / float64(chartSamples-1)
	for i := 0; i < chartSamples; i++ {
		x := mean - 3*sigma + float64(i)*step
		d := x - mean
		y := math.Exp(-(d * d) / (2 * sigma * sigma))
		points = append(points, domain.ChartPoint{X: round2(x), Y: round2(y)})
	}
	return points
}
