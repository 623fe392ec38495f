// Package predict implements the prediction pipeline: an actor-style worker
// that runs ensemble simulations off the caller's goroutine, and an aggregator
// that gathers signals, memoizes results by input signature, and degrades to a
// simple in-process model when the worker is unavailable.
package predict

import (
	"context"
	"sync"

	"exam-prep-service/internal/domain"
)

// Runner is the ensemble-simulation contract executed inside the worker:
// telemetry snapshot plus model configuration in, score/range/flags out. The
// blending algorithm itself is pluggable.
type Runner interface {
	Run(snapshot domain.TelemetrySnapshot, cfg domain.EnsembleConfig) (domain.PredictionResult, error)
}

type commandKind int

const (
	cmdPing commandKind = iota
	cmdRunEnsemble
)

type command struct {
	kind     commandKind
	snapshot domain.TelemetrySnapshot
	config   domain.EnsembleConfig
	reply    chan response
}

type response struct {
	status string
	result domain.PredictionResult
	err    error
}

const statusSuccess = "SUCCESS"

// Worker serializes ensemble runs on a single goroutine. Commands are sent
// over a channel and answered on a per-command reply channel; only a SUCCESS
// status resolves a run with a result. Every dispatch is bounded by the
// caller's context, so a failing run settles with an error instead of hanging.
type Worker struct {
	cmds      chan command
	done      chan struct{}
	closeOnce sync.Once
}

func NewWorker(runner Runner) *Worker {
	w := &Worker{
		cmds: make(chan command),
		done: make(chan struct{}),
	}
	go w.loop(runner)
	return w
}

func (w *Worker) loop(runner Runner) {
	for {
		select {
		case cmd := <-w.cmds:
			switch cmd.kind {
			case cmdPing:
				// warm-up only, no reply contract
			case cmdRunEnsemble:
				result, err := runner.Run(cmd.snapshot, cmd.config)
				if err != nil {
					cmd.reply <- response{status: "ERROR", err: err}
					continue
				}
				cmd.reply <- response{status: statusSuccess, result: result}
			}
		case <-w.done:
			return
		}
	}
}

// Ping nudges the worker goroutine awake. Fire-and-forget: if the worker is
// busy or closed the ping is dropped.
func (w *Worker) Ping() {
	select {
	case w.cmds <- command{kind: cmdPing}:
	case <-w.done:
	default:
	}
}

// RunEnsemble dispatches a simulation and waits for its reply, the context
// deadline, or worker shutdown, whichever comes first.
func (w *Worker) RunEnsemble(ctx context.Context, snapshot domain.TelemetrySnapshot, cfg domain.EnsembleConfig) (domain.PredictionResult, error) {
	reply := make(chan response, 1)
	select {
	case w.cmds <- command{kind: cmdRunEnsemble, snapshot: snapshot, config: cfg, reply: reply}:
	case <-ctx.Done():
		return domain.PredictionResult{}, ctx.Err()
	case <-w.done:
		return domain.PredictionResult{}, domain.ErrWorkerClosed
	}

	select {
	case resp := <-reply:
		if resp.err != nil {
			return domain.PredictionResult{}, resp.err
		}
		if resp.status != statusSuccess {
			return domain.PredictionResult{}, domain.ErrWorkerStatus
		}
		return resp.result, nil
	case <-ctx.Done():
		return domain.PredictionResult{}, ctx.Err()
	case <-w.done:
		return domain.PredictionResult{}, domain.ErrWorkerClosed
	}
}

// Close stops the worker goroutine. Safe to call more than once.
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.done) })
}
