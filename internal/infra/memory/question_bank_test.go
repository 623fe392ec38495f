package memory

import (
	"context"
	"testing"
	"time"

	"exam-prep-service/internal/domain"
)

type countingLoader struct {
	inner SubjectLoader
	calls int
}

func (l *countingLoader) LoadSubject(ctx context.Context, subject string) ([]domain.Question, error) {
	l.calls++
	return l.inner.LoadSubject(ctx, subject)
}

func subjectFixture() map[string][]domain.Question {
	questions := make([]domain.Question, 0, 20)
	for i := 0; i < 20; i++ {
		questions = append(questions, domain.Question{
			ID:      string(rune('a' + i)),
			Subject: "polity",
			Options: []string{"w", "x", "y", "z"},
		})
	}
	return map[string][]domain.Question{"polity": questions}
}

func TestSampleQuestionsLimitsAndDeduplicates(t *testing.T) {
	bank := NewQuestionBank(NewStaticLoader(subjectFixture()), time.Minute)

	sample, err := bank.SampleQuestions(context.Background(), "polity", 15)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(sample) != 15 {
		t.Fatalf("sample size: got %d, want 15", len(sample))
	}
	seen := make(map[string]bool)
	for _, q := range sample {
		if seen[q.ID] {
			t.Fatalf("duplicate question %s in sample", q.ID)
		}
		seen[q.ID] = true
	}
}

func TestSampleQuestionsCachesSubjectSet(t *testing.T) {
	loader := &countingLoader{inner: NewStaticLoader(subjectFixture())}
	bank := NewQuestionBank(loader, time.Minute)
	ctx := context.Background()

	if _, err := bank.SampleQuestions(ctx, "polity", 5); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if _, err := bank.SampleQuestions(ctx, "polity", 5); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected 1 loader call, got %d", loader.calls)
	}
}

func TestSampleQuestionsUnknownSubjectIsEmpty(t *testing.T) {
	bank := NewQuestionBank(NewStaticLoader(subjectFixture()), time.Minute)

	sample, err := bank.SampleQuestions(context.Background(), "geography", 15)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(sample) != 0 {
		t.Fatalf("expected empty sample, got %d", len(sample))
	}
}
