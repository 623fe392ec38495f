package predict

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"exam-prep-service/internal/domain"
	"exam-prep-service/internal/event"
)

// SignalSource supplies the cross-session signals a prediction is built from.
// Satisfied by app.ProgressStore implementations.
type SignalSource interface {
	AcademicStates(ctx context.Context) ([]domain.AcademicState, error)
	Results(ctx context.Context) ([]domain.Result, error)
	Profile(ctx context.Context) (domain.BehavioralProfile, bool, error)
}

// Config tunes the aggregator.
type Config struct {
	// ExamDate anchors the days-remaining meta signal.
	ExamDate time.Time
	// SubjectWeights scale each subject's contribution; missing subjects weigh 1.
	SubjectWeights map[string]float64
	// Timeout bounds one worker round-trip. Defaults to 10s.
	Timeout time.Duration
	// Runner builds the ensemble computation hosted by the worker. Nil means
	// no worker support: every prediction uses the in-process fallback.
	Runner Runner
	Clock  func() time.Time
}

// Aggregator owns the prediction entry point. It memoizes the most recent
// result keyed by a structural signature of the input snapshot, coalesces
// concurrent callers onto a single in-flight computation, and falls back to a
// simplified linear projection when the worker is unavailable or erroring.
type Aggregator struct {
	signals SignalSource
	cfg     Config
	events  *event.Hub[domain.DisplayPrediction]

	initOnce sync.Once
	worker   *Worker

	mu         sync.Mutex
	lastSig    string
	lastResult *domain.PredictionResult

	sf singleflight.Group
}

func NewAggregator(signals SignalSource, cfg Config) *Aggregator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Aggregator{
		signals: signals,
		cfg:     cfg,
		events:  event.NewHub[domain.DisplayPrediction](),
	}
}

// Subscribe returns a channel of prediction-ready notifications carrying the
// display-formatted result. The caller must invoke cancel to avoid leaks.
func (a *Aggregator) Subscribe() (<-chan domain.DisplayPrediction, func()) {
	return a.events.Subscribe()
}

// GetPrediction returns the current forecast. An input snapshot identical to
// the previous call's is served from the single-entry memo cache without a new
// computation; otherwise one computation runs and concurrent callers share its
// result. The call always settles: worker errors degrade to the fallback model
// rather than stalling the caller.
func (a *Aggregator) GetPrediction(ctx context.Context) (domain.PredictionResult, error) {
	a.ensureWorker()

	snapshot, err := a.gatherSnapshot(ctx)
	if err != nil {
		return domain.PredictionResult{}, err
	}
	sig, err := signature(snapshot)
	if err != nil {
		return domain.PredictionResult{}, err
	}

	if cached, ok := a.cached(sig); ok {
		a.events.Publish(FormatForDisplay(cached))
		return cached, nil
	}

	v, err, _ := a.sf.Do("prediction", func() (interface{}, error) {
		// A coalesced caller may arrive after the leader cached this signature.
		if cached, ok := a.cached(sig); ok {
			return cached, nil
		}
		result := a.compute(ctx, snapshot)
		a.mu.Lock()
		a.lastSig = sig
		a.lastResult = &result
		a.mu.Unlock()
		return result, nil
	})
	if err != nil {
		return domain.PredictionResult{}, err
	}
	result := v.(domain.PredictionResult)
	a.events.Publish(FormatForDisplay(result))
	return result, nil
}

// ensureWorker lazily constructs the worker once. A missing runner is logged
// once and never retried per call; predictions then permanently use the
// fallback.
func (a *Aggregator) ensureWorker() {
	a.initOnce.Do(func() {
		if a.cfg.Runner == nil {
			log.Printf("prediction: no ensemble runner configured, using fallback model")
			return
		}
		a.worker = NewWorker(a.cfg.Runner)
		a.worker.Ping()
	})
}

// Close stops the worker, if one was started.
func (a *Aggregator) Close() {
	if a.worker != nil {
		a.worker.Close()
	}
}

func (a *Aggregator) cached(sig string) (domain.PredictionResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastResult != nil && a.lastSig == sig {
		return *a.lastResult, true
	}
	return domain.PredictionResult{}, false
}

func (a *Aggregator) compute(ctx context.Context, snapshot domain.TelemetrySnapshot) domain.PredictionResult {
	if a.worker == nil {
		return fallbackPrediction(snapshot, a.cfg.SubjectWeights)
	}
	runCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	result, err := a.worker.RunEnsemble(runCtx, snapshot, domain.DefaultEnsembleConfig())
	if err != nil {
		log.Printf("prediction: ensemble run failed, degrading: %v", err)
		return fallbackPrediction(snapshot, a.cfg.SubjectWeights)
	}
	return result
}

// gatherSnapshot assembles the aggregator input: the full academic-state scan,
// the behavioral profile (neutral default when absent), and meta fields.
func (a *Aggregator) gatherSnapshot(ctx context.Context) (domain.TelemetrySnapshot, error) {
	states, err := a.signals.AcademicStates(ctx)
	if err != nil {
		return domain.TelemetrySnapshot{}, fmt.Errorf("scan academic states: %w", err)
	}
	// Stores return sorted scans, but the signature must not depend on that.
	sort.Slice(states, func(i, j int) bool { return states[i].Subject < states[j].Subject })

	profile, ok, err := a.signals.Profile(ctx)
	if err != nil {
		return domain.TelemetrySnapshot{}, fmt.Errorf("load profile: %w", err)
	}
	if !ok {
		profile = domain.NeutralProfile()
	}

	results, err := a.signals.Results(ctx)
	if err != nil {
		return domain.TelemetrySnapshot{}, fmt.Errorf("load history: %w", err)
	}

	return domain.TelemetrySnapshot{
		AcademicStates: states,
		Profile:        profile,
		HistoryCount:   len(results),
		DaysRemaining:  a.daysRemaining(),
	}, nil
}

func (a *Aggregator) daysRemaining() int {
	if a.cfg.ExamDate.IsZero() {
		return 0
	}
	days := int(a.cfg.ExamDate.Sub(a.cfg.Clock()).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// signature is the deterministic structural fingerprint used for cache-hit
// detection: JSON over a snapshot with sorted slices and fixed field order.
func signature(snapshot domain.TelemetrySnapshot) (string, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("sign snapshot: %w", err)
	}
	return string(raw), nil
}
