package app

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/oklog/ulid/v2"

	"exam-prep-service/internal/domain"
)

// Marking scheme: +2 for a correct answer, -0.66 for a wrong one. Skipped
// questions score nothing and do not count as wrong.
const (
	marksPerCorrect = 2.0
	negativeMark    = 0.66
)

// calculateResultLocked scores the session against a snapshot of its
// questions. An index with no recorded answer is skipped: it is marked
// incorrect on the snapshot but does not affect accuracy. Accuracy is defined
// as 0 when nothing was attempted.
func (e *Engine) calculateResultLocked() domain.Result {
	s := e.state

	questions := make([]domain.Question, len(s.questions))
	copy(questions, s.questions)

	var correct, wrong, skipped int
	var score float64
	for i := range questions {
		answer, answered := s.answers[i]
		if !answered {
			skipped++
			questions[i].IsCorrect = boolPtr(false)
			continue
		}
		if answer == questions[i].CorrectAnswer {
			correct++
			score += marksPerCorrect
			questions[i].IsCorrect = boolPtr(true)
		} else {
			wrong++
			score -= negativeMark
			questions[i].IsCorrect = boolPtr(false)
		}
	}
	score = math.Round(score*100) / 100

	accuracy := 0
	if attempted := correct + wrong; attempted > 0 {
		accuracy = int(math.Round(float64(correct) / float64(attempted) * 100))
	}

	snap := e.snapshotLocked()
	return domain.Result{
		ID:            ulid.Make().String(),
		Timestamp:     e.now(),
		Subject:       s.subject,
		Score:         score,
		TotalMarks:    len(questions) * int(marksPerCorrect),
		Correct:       correct,
		Wrong:         wrong,
		Skipped:       skipped,
		Accuracy:      accuracy,
		TotalDuration: s.totalDuration - s.timeLeft,
		Questions:     questions,
		Telemetry:     snap.Telemetry,
	}
}

// updateMasteryLocked folds the result into the subject's running mean
// mastery. Callers treat failure as advisory.
func (e *Engine) updateMasteryLocked(ctx context.Context, result domain.Result) error {
	state, ok, err := e.progress.AcademicState(ctx, result.Subject)
	if err != nil {
		return fmt.Errorf("read academic state: %w", err)
	}
	if !ok {
		state = domain.AcademicState{Subject: result.Subject}
	}
	state.Mastery = (state.Mastery*float64(state.Attempts) + result.Score) / float64(state.Attempts+1)
	state.Attempts++
	state.LastStudied = e.now()
	if err := e.progress.PutAcademicState(ctx, state); err != nil {
		return fmt.Errorf("write academic state: %w", err)
	}
	return nil
}

// randomizeOptions returns a copy of q with its options shuffled and
// CorrectAnswer recomputed to the shuffled position of the originally correct
// option. The legacy CorrectOption alias is resolved here and cleared so only
// the canonical field exists downstream. This per-session shuffle is why
// answers are keyed by question index rather than question ID.
func randomizeOptions(q domain.Question, rnd *rand.Rand) domain.Question {
	out := q
	out.Options = make([]string, len(q.Options))
	copy(out.Options, q.Options)
	out.IsCorrect = nil

	correctIdx := q.CorrectAnswer
	if q.CorrectOption != nil {
		correctIdx = *q.CorrectOption
	}
	out.CorrectOption = nil
	if correctIdx < 0 || correctIdx >= len(out.Options) {
		correctIdx = 0
	}
	out.CorrectAnswer = correctIdx

	if len(out.Options) < 2 {
		return out
	}
	perm := rnd.Perm(len(q.Options))
	for newPos, oldPos := range perm {
		out.Options[newPos] = q.Options[oldPos]
		if oldPos == correctIdx {
			out.CorrectAnswer = newPos
		}
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
