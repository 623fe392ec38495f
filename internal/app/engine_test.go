package app

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"exam-prep-service/internal/domain"
	"exam-prep-service/internal/infra/memory"
)

// fakeClock drives engine time deterministically. Tests use a huge tick
// interval so the timer goroutine never fires on its own.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type stubBank struct {
	questions []domain.Question
	calls     int
	err       error
}

func (b *stubBank) SampleQuestions(_ context.Context, _ string, limit int) ([]domain.Question, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	if limit > len(b.questions) {
		limit = len(b.questions)
	}
	return b.questions[:limit], nil
}

func testQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Subject: "polity", Prompt: "p1", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 0},
		{ID: "q2", Subject: "polity", Prompt: "p2", Options: []string{"e", "f", "g", "h"}, CorrectAnswer: 3},
		{ID: "q3", Subject: "polity", Prompt: "p3", Options: []string{"i", "j", "k", "l"}, CorrectAnswer: 1},
		{ID: "q4", Subject: "polity", Prompt: "p4", Options: []string{"m", "n", "o", "p"}, CorrectAnswer: 2},
	}
}

func newTestEngine(t *testing.T, bank QuestionBank, clk *fakeClock) (*Engine, *memory.SessionStore, *memory.ProgressStore) {
	t.Helper()
	sessions := memory.NewSessionStore()
	progress := memory.NewProgressStore()
	e := NewEngine(bank, sessions, progress, Options{
		TickInterval: time.Hour,
		Clock:        clk.Now,
		Rand:         rand.New(rand.NewSource(42)),
	})
	return e, sessions, progress
}

func TestStartSessionNoQuestionsIsFatal(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	e, _, _ := newTestEngine(t, &stubBank{}, clk)

	err := e.StartSession(context.Background(), "polity")
	if !errors.Is(err, domain.ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
	if _, ok := e.Snapshot(); ok {
		t.Fatalf("expected no session after fatal start")
	}
}

func TestOptionShuffleKeepsCorrectText(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	legacy := 2
	original := testQuestions()
	// one legacy question exercising correctOption normalization
	original = append(original, domain.Question{
		ID: "q5", Subject: "polity", Prompt: "p5",
		Options: []string{"q", "r", "s", "t"}, CorrectOption: &legacy,
	})
	e, _, _ := newTestEngine(t, &stubBank{questions: original}, clk)

	if err := e.StartSession(context.Background(), "polity"); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, ok := e.Snapshot()
	if !ok {
		t.Fatalf("expected active session")
	}

	byID := make(map[string]domain.Question)
	for _, q := range original {
		byID[q.ID] = q
	}
	for _, q := range snap.Questions {
		orig := byID[q.ID]
		correctIdx := orig.CorrectAnswer
		if orig.CorrectOption != nil {
			correctIdx = *orig.CorrectOption
		}
		if q.CorrectOption != nil {
			t.Fatalf("question %s: legacy field not cleared", q.ID)
		}
		if got, want := q.Options[q.CorrectAnswer], orig.Options[correctIdx]; got != want {
			t.Fatalf("question %s: correct option text %q, want %q", q.ID, got, want)
		}
	}
	if snap.TotalDuration != len(snap.Questions)*defaultSecondsPerQuestion {
		t.Fatalf("expected duration %d, got %d", len(snap.Questions)*defaultSecondsPerQuestion, snap.TotalDuration)
	}
}

func TestScoring(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	e, _, _ := newTestEngine(t, &stubBank{questions: testQuestions()}, clk)
	ctx := context.Background()

	if err := e.StartSession(ctx, "polity"); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, _ := e.Snapshot()

	// two correct, one wrong, one skipped
	e.GoToQuestion(0)
	e.SubmitAnswer(snap.Questions[0].CorrectAnswer)
	e.GoToQuestion(1)
	e.SubmitAnswer(snap.Questions[1].CorrectAnswer)
	e.GoToQuestion(2)
	e.SubmitAnswer((snap.Questions[2].CorrectAnswer + 1) % len(snap.Questions[2].Options))

	result, err := e.SubmitQuiz(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a result")
	}
	if result.Correct != 2 || result.Wrong != 1 || result.Skipped != 1 {
		t.Fatalf("counts: got c=%d w=%d s=%d", result.Correct, result.Wrong, result.Skipped)
	}
	if want := math.Round((2*2.0-0.66)*100) / 100; result.Score != want {
		t.Fatalf("score: got %v, want %v", result.Score, want)
	}
	if result.Accuracy != 67 {
		t.Fatalf("accuracy: got %d, want 67", result.Accuracy)
	}
	if result.TotalMarks != 8 {
		t.Fatalf("total marks: got %d, want 8", result.TotalMarks)
	}
	if result.ID == "" {
		t.Fatalf("expected a result ID")
	}
	// skipped question marked incorrect on the snapshot without counting as wrong
	if ic := result.Questions[3].IsCorrect; ic == nil || *ic {
		t.Fatalf("skipped question should carry isCorrect=false")
	}
}

func TestSkippedOnlySessionReportsZeroAccuracy(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	e, _, _ := newTestEngine(t, &stubBank{questions: testQuestions()}, clk)
	ctx := context.Background()

	if err := e.StartSession(ctx, "polity"); err != nil {
		t.Fatalf("start: %v", err)
	}
	result, err := e.SubmitQuiz(ctx)
	if err != nil || result == nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Accuracy != 0 || result.Score != 0 || result.Skipped != 4 {
		t.Fatalf("got accuracy=%d score=%v skipped=%d", result.Accuracy, result.Score, result.Skipped)
	}
}

func TestSwitchCounterAndTimePerQuestion(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	e, _, _ := newTestEngine(t, &stubBank{questions: testQuestions()}, clk)
	ctx := context.Background()

	if err := e.StartSession(ctx, "polity"); err != nil {
		t.Fatalf("start: %v", err)
	}

	clk.Advance(2 * time.Second)
	e.SubmitAnswer(0)
	e.SubmitAnswer(0) // same answer, no switch
	e.SubmitAnswer(1) // changed answer

	snap, _ := e.Snapshot()
	if snap.Telemetry.Switches[0] != 1 {
		t.Fatalf("switches: got %d, want 1", snap.Telemetry.Switches[0])
	}
	if snap.Telemetry.TimePerQuestion[0] != 2000 {
		t.Fatalf("time per question: got %d, want 2000", snap.Telemetry.TimePerQuestion[0])
	}
	if snap.Answers[0] != 1 {
		t.Fatalf("answer: got %d, want 1", snap.Answers[0])
	}
}

func TestImpulseDetectionThreshold(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	e, _, _ := newTestEngine(t, &stubBank{questions: testQuestions()}, clk)
	ctx := context.Background()

	if err := e.StartSession(ctx, "polity"); err != nil {
		t.Fatalf("start: %v", err)
	}

	clk.Advance(1499 * time.Millisecond)
	e.NextQuestion() // 1499ms elapsed: impulsive

	clk.Advance(1500 * time.Millisecond)
	e.NextQuestion() // exactly 1500ms: not impulsive

	snap, _ := e.Snapshot()
	if snap.Telemetry.ImpulseClicks != 1 {
		t.Fatalf("impulse clicks: got %d, want 1", snap.Telemetry.ImpulseClicks)
	}
	if snap.CurrentIndex != 2 {
		t.Fatalf("current index: got %d, want 2", snap.CurrentIndex)
	}
}

func TestNavigationBounds(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	e, _, _ := newTestEngine(t, &stubBank{questions: testQuestions()}, clk)
	ctx := context.Background()

	if err := e.StartSession(ctx, "polity"); err != nil {
		t.Fatalf("start: %v", err)
	}

	e.PrevQuestion() // at 0: no-op
	e.GoToQuestion(-1)
	e.GoToQuestion(4)
	snap, _ := e.Snapshot()
	if snap.CurrentIndex != 0 {
		t.Fatalf("index moved on out-of-bounds navigation: %d", snap.CurrentIndex)
	}

	e.GoToQuestion(3)
	e.NextQuestion() // at last: no-op
	snap, _ = e.Snapshot()
	if snap.CurrentIndex != 3 {
		t.Fatalf("index: got %d, want 3", snap.CurrentIndex)
	}
}

func TestTimerExpirySubmitsExactlyOnce(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	e, _, progress := newTestEngine(t, &stubBank{questions: testQuestions()}, clk)
	ctx := context.Background()

	if err := e.StartSession(ctx, "polity"); err != nil {
		t.Fatalf("start: %v", err)
	}

	e.mu.Lock()
	e.state.timeLeft = 1
	e.mu.Unlock()

	e.tick() // 1 -> 0: auto-submit
	results, _ := progress.Results(ctx)
	if len(results) != 1 {
		t.Fatalf("expected 1 result after expiry, got %d", len(results))
	}

	// a racing explicit submit is a no-op
	result, err := e.SubmitQuiz(ctx)
	if err != nil || result != nil {
		t.Fatalf("expected no-op submit, got result=%v err=%v", result, err)
	}
	e.tick() // ticking a finished session does nothing
	results, _ = progress.Results(ctx)
	if len(results) != 1 {
		t.Fatalf("expected still 1 result, got %d", len(results))
	}
}

func TestOrphanRecovery(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	bank := &stubBank{questions: testQuestions()}
	sessions := memory.NewSessionStore()
	progress := memory.NewProgressStore()
	ctx := context.Background()

	e1 := NewEngine(bank, sessions, progress, Options{TickInterval: time.Hour, Clock: clk.Now})
	if err := e1.StartSession(ctx, "polity"); err != nil {
		t.Fatalf("start: %v", err)
	}
	e1.SubmitAnswer(2)
	e1.ToggleBookmark("q3")
	e1.NextQuestion()
	want, _ := e1.Snapshot()

	// snapshot writes are fire-and-forget; wait for the last one to land
	waitFor(t, func() bool {
		snap, ok, _ := sessions.Load(ctx, "polity")
		return ok && snap.CurrentIndex == want.CurrentIndex
	})

	// a second engine simulates the restarted process; its bank must not be hit
	e2 := NewEngine(&stubBank{err: errors.New("bank must not be called")}, sessions, progress,
		Options{TickInterval: time.Hour, Clock: clk.Now})
	if err := e2.StartSession(ctx, "polity"); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, ok := e2.Snapshot()
	if !ok {
		t.Fatalf("expected restored session")
	}
	if got.CurrentIndex != want.CurrentIndex {
		t.Fatalf("current index: got %d, want %d", got.CurrentIndex, want.CurrentIndex)
	}
	if got.Answers[0] != 2 || len(got.Answers) != 1 {
		t.Fatalf("answers not restored: %v", got.Answers)
	}
	if len(got.Bookmarks) != 1 || got.Bookmarks[0] != "q3" {
		t.Fatalf("bookmarks not restored: %v", got.Bookmarks)
	}
	if len(got.Questions) != len(want.Questions) || got.Questions[0].ID != want.Questions[0].ID {
		t.Fatalf("questions changed on restore")
	}
}

func TestStartSessionReplacesActiveSession(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	bank := &stubBank{questions: testQuestions()}
	e, sessions, _ := newTestEngine(t, bank, clk)
	ctx := context.Background()

	if err := e.StartSession(ctx, "polity"); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.SubmitAnswer(1)
	// clear the orphan record so the new start cannot restore it
	e.Terminate()
	if _, ok := e.Snapshot(); ok {
		t.Fatalf("expected no session after terminate")
	}
	// the clear is ordered after the answer's snapshot write
	waitFor(t, func() bool {
		_, ok, _ := sessions.Load(ctx, "polity")
		return !ok
	})

	if err := e.StartSession(ctx, "polity"); err != nil {
		t.Fatalf("second start: %v", err)
	}
	snap, _ := e.Snapshot()
	if len(snap.Answers) != 0 {
		t.Fatalf("expected fresh session, got answers %v", snap.Answers)
	}
	if bank.calls != 2 {
		t.Fatalf("expected 2 bank fetches, got %d", bank.calls)
	}
}

func TestMasteryRunningMean(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	e, _, progress := newTestEngine(t, &stubBank{questions: testQuestions()}, clk)
	ctx := context.Background()

	if err := e.updateMasteryLocked(ctx, domain.Result{Subject: "polity", Score: 10}); err != nil {
		t.Fatalf("update: %v", err)
	}
	st, ok, _ := progress.AcademicState(ctx, "polity")
	if !ok || st.Mastery != 10 || st.Attempts != 1 {
		t.Fatalf("after first result: %+v", st)
	}

	if err := e.updateMasteryLocked(ctx, domain.Result{Subject: "polity", Score: 0}); err != nil {
		t.Fatalf("update: %v", err)
	}
	st, _, _ = progress.AcademicState(ctx, "polity")
	if st.Mastery != 5 || st.Attempts != 2 {
		t.Fatalf("after second result: %+v", st)
	}
}

func TestSubmitClearsSessionRecordAndBroadcastsResult(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	e, sessions, _ := newTestEngine(t, &stubBank{questions: testQuestions()}, clk)
	ctx := context.Background()

	events, cancel := e.Subscribe()
	defer cancel()

	if err := e.StartSession(ctx, "polity"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.SubmitQuiz(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, func() bool {
		_, ok, _ := sessions.Load(ctx, "polity")
		return !ok
	})

	sawResult := false
	for !sawResult {
		select {
		case ev := <-events:
			if ev.Kind == EventResult && ev.Result != nil {
				sawResult = true
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no result event received")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
