package domain

import "time"

// Question is a multiple-choice question. Options are shuffled once per
// session at load time and CorrectAnswer is recomputed to track the shuffle,
// so answer bookkeeping must always key on the session-relative question
// index, never on the question ID.
type Question struct {
	ID      string   `json:"id"`
	Subject string   `json:"subject"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	// CorrectAnswer is the canonical index into Options.
	CorrectAnswer int `json:"correctAnswer"`
	// CorrectOption is a legacy alias for CorrectAnswer still present in old
	// question dumps. Normalization consumes it and clears it; downstream code
	// only ever sees CorrectAnswer.
	CorrectOption *int `json:"correctOption,omitempty"`
	// IsCorrect is written once, at scoring time.
	IsCorrect *bool `json:"isCorrect,omitempty"`
}

// Telemetry holds the per-session behavioral signals. Map keys are question
// indices, matching the Answers invariant.
type Telemetry struct {
	ImpulseClicks int `json:"impulseClicks"`
	// Switches counts answer changes per question.
	Switches map[int]int `json:"switches"`
	// TimePerQuestion is milliseconds spent per question, measured from first view.
	TimePerQuestion map[int]int64 `json:"timePerQuestion"`
	// QuestionStartTimes records the first-view timestamp (unix ms) per question.
	QuestionStartTimes map[int]int64 `json:"questionStartTimes"`
}

// NewTelemetry returns an empty telemetry record with initialized maps.
func NewTelemetry() Telemetry {
	return Telemetry{
		Switches:           make(map[int]int),
		TimePerQuestion:    make(map[int]int64),
		QuestionStartTimes: make(map[int]int64),
	}
}

// Repair initializes any nil maps. Snapshots written by older builds may lack
// telemetry fields entirely; restoring them must not leave nil maps behind.
func (t *Telemetry) Repair() {
	if t.Switches == nil {
		t.Switches = make(map[int]int)
	}
	if t.TimePerQuestion == nil {
		t.TimePerQuestion = make(map[int]int64)
	}
	if t.QuestionStartTimes == nil {
		t.QuestionStartTimes = make(map[int]int64)
	}
}

// SessionSnapshot is the persisted form of a live session. It survives process
// restarts until explicitly cleared and is how orphaned sessions are recovered.
// Bookmarks are encoded as a sorted slice at this boundary and rehydrated into
// a set by the engine.
type SessionSnapshot struct {
	Active        bool        `json:"active"`
	Subject       string      `json:"subject"`
	StartedAt     time.Time   `json:"startedAt"`
	TotalDuration int         `json:"totalDuration"` // seconds
	TimeLeft      int         `json:"timeLeft"`      // seconds
	Questions     []Question  `json:"questions"`
	Answers       map[int]int `json:"answers"` // question index -> option index
	Bookmarks     []string    `json:"bookmarks"`
	CurrentIndex  int         `json:"currentIndex"`
	Telemetry     Telemetry   `json:"telemetry"`
}

// Result is the immutable outcome of one submitted session.
type Result struct {
	ID            string     `json:"id"`
	Timestamp     time.Time  `json:"timestamp"`
	Subject       string     `json:"subject"`
	Score         float64    `json:"score"` // can be fractional or negative
	TotalMarks    int        `json:"totalMarks"`
	Correct       int        `json:"correct"`
	Wrong         int        `json:"wrong"`
	Skipped       int        `json:"skipped"`
	Accuracy      int        `json:"accuracy"`      // 0-100
	TotalDuration int        `json:"totalDuration"` // elapsed seconds, not the configured cap
	Questions     []Question `json:"questions"`     // scored snapshot
	Telemetry     Telemetry  `json:"telemetry"`
}

// AcademicState tracks per-subject mastery, updated after every submission.
type AcademicState struct {
	Subject     string    `json:"subject"`
	Mastery     float64   `json:"mastery"` // running mean of scores
	Attempts    int       `json:"attempts"`
	LastStudied time.Time `json:"lastStudied"`
}

// BehavioralProfile is the cross-session behavioral fingerprint consumed by
// the prediction pipeline. All dimensions are normalized to [0,1].
type BehavioralProfile struct {
	Focus        float64 `json:"focus"`
	Stamina      float64 `json:"stamina"`
	Consistency  float64 `json:"consistency"`
	Retention    float64 `json:"retention"`
	Speed        float64 `json:"speed"`
	Calm         float64 `json:"calm"`
	Discipline   float64 `json:"discipline"`
	RiskAppetite float64 `json:"riskAppetite"`
	PanicFactor  float64 `json:"panicFactor"`
}

// NeutralProfile is the "average aspirant" default used when no profile has
// been stored yet.
func NeutralProfile() BehavioralProfile {
	return BehavioralProfile{
		Focus:        0.5,
		Stamina:      0.5,
		Consistency:  0.5,
		Retention:    0.5,
		Speed:        0.5,
		Calm:         0.5,
		Discipline:   0.5,
		RiskAppetite: 0.5,
		PanicFactor:  0.5,
	}
}

// TelemetrySnapshot is the full input to a prediction run: academic signals,
// behavioral profile, and meta fields. AcademicStates must be sorted by
// subject so that serializing the snapshot yields a stable signature.
type TelemetrySnapshot struct {
	AcademicStates []AcademicState   `json:"academicStates"`
	Profile        BehavioralProfile `json:"profile"`
	HistoryCount   int               `json:"historyCount"`
	DaysRemaining  int               `json:"daysRemaining"`
}

// ModelWeight names one ensemble sub-model and its blend weight.
type ModelWeight struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// EnsembleConfig is the fixed model mix dispatched with every ensemble run.
type EnsembleConfig struct {
	Models []ModelWeight `json:"models"`
}

// DefaultEnsembleConfig returns the production model mix.
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{Models: []ModelWeight{
		{Name: "monte_carlo_stress", Weight: 0.50},
		{Name: "bayesian_uncertainty", Weight: 0.30},
		{Name: "pattern_recognition", Weight: 0.20},
	}}
}

// ScoreRange is the uncertainty band around a predicted score.
type ScoreRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Prediction flags.
const (
	FlagDegradedMode = "degraded_mode"
	FlagDisqualified = "disqualified"
)

// PredictionResult is the output of an ensemble run (or the fallback model).
// It is cached by input signature but never persisted.
type PredictionResult struct {
	Score      float64            `json:"score"`
	Range      ScoreRange         `json:"range"`
	Confidence float64            `json:"confidence"`
	Flags      []string           `json:"flags"`
	Breakdown  map[string]float64 `json:"breakdown"`
}

// HasFlag reports whether the result carries the named condition tag.
func (p PredictionResult) HasFlag(name string) bool {
	for _, f := range p.Flags {
		if f == name {
			return true
		}
	}
	return false
}

// ChartPoint is one sample of the Gaussian score distribution used for charting.
type ChartPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DisplayPrediction is the UI-facing shape of a prediction.
type DisplayPrediction struct {
	Score        float64      `json:"score"`
	Probability  int          `json:"probability"` // percent
	Narrative    string       `json:"narrative"`
	Color        string       `json:"color"`
	Confidence   float64      `json:"confidence"`
	Range        ScoreRange   `json:"range"`
	Disqualified bool         `json:"disqualified"`
	Chart        []ChartPoint `json:"chart,omitempty"`
}
