package predict

import (
	"math/rand"
	"time"

	"exam-prep-service/internal/domain"
)

// EnsembleRunner is the default Runner: a weighted blend of a stochastic
// stress-test model, an uncertainty model, and a pattern model over the
// telemetry snapshot. It honors the config's model names and weights so the
// mix can be tuned without touching the models.
type EnsembleRunner struct {
	weights map[string]float64
	trials  int
	rnd     *rand.Rand
}

func NewEnsembleRunner(weights map[string]float64) *EnsembleRunner {
	return &EnsembleRunner{
		weights: weights,
		trials:  500,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *EnsembleRunner) Run(snapshot domain.TelemetrySnapshot, cfg domain.EnsembleConfig) (domain.PredictionResult, error) {
	base := r.baseProjection(snapshot)
	profile := snapshot.Profile

	models := map[string]float64{
		"monte_carlo_stress":   r.monteCarloStress(base, profile),
		"bayesian_uncertainty": bayesianShrink(base, snapshot.HistoryCount),
		"pattern_recognition":  patternAdjust(base, profile),
	}

	var score, totalWeight float64
	breakdown := make(map[string]float64, len(cfg.Models))
	for _, m := range cfg.Models {
		v, ok := models[m.Name]
		if !ok {
			continue
		}
		score += v * m.Weight
		totalWeight += m.Weight
		breakdown[m.Name] = round2(v)
	}
	if totalWeight > 0 {
		score /= totalWeight
	}
	score = round2(score)

	confidence := 0.4 + 0.05*float64(snapshot.HistoryCount)
	if confidence > 0.9 {
		confidence = 0.9
	}
	spread := score * (1 - confidence) * 0.5
	if spread < 2 {
		spread = 2
	}

	var flags []string
	if snapshot.HistoryCount < 3 {
		flags = append(flags, "low_data")
	}

	return domain.PredictionResult{
		Score:      score,
		Range:      domain.ScoreRange{Min: round2(score - spread), Max: round2(score + spread)},
		Confidence: round2(confidence),
		Flags:      flags,
		Breakdown:  breakdown,
	}, nil
}

func (r *EnsembleRunner) baseProjection(snapshot domain.TelemetrySnapshot) float64 {
	var base float64
	for _, st := range snapshot.AcademicStates {
		w, ok := r.weights[st.Subject]
		if !ok {
			w = 1
		}
		base += st.Mastery * w * 2
	}
	return base
}

// monteCarloStress perturbs the base projection across trials, with volatility
// scaled by the aspirant's panic factor and damped by calm.
func (r *EnsembleRunner) monteCarloStress(base float64, p domain.BehavioralProfile) float64 {
	if r.trials <= 0 {
		return base
	}
	volatility := 0.04 + 0.1*p.PanicFactor*(1-p.Calm)
	var sum float64
	for i := 0; i < r.trials; i++ {
		sum += base * (1 + r.rnd.NormFloat64()*volatility)
	}
	return sum / float64(r.trials)
}

// bayesianShrink pulls thin evidence toward a population prior; the more
// attempts on record, the more the projection stands on its own.
func bayesianShrink(base float64, historyCount int) float64 {
	const (
		prior       = 70.0
		priorWeight = 5.0
	)
	n := float64(historyCount)
	return (base*n + prior*priorWeight) / (n + priorWeight)
}

// patternAdjust scales the projection by study habits: consistent, disciplined
// aspirants tend to outperform their raw averages under exam conditions.
func patternAdjust(base float64, p domain.BehavioralProfile) float64 {
	return base * (0.9 + 0.2*(p.Consistency+p.Discipline)/2)
}
