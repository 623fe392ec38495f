package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"exam-prep-service/internal/domain"
)

// SubjectLoader fetches a subject's full question set from a backing store.
type SubjectLoader interface {
	LoadSubject(ctx context.Context, subject string) ([]domain.Question, error)
}

// QuestionBank caches full per-subject question sets with TTL and serves
// random samples from the cached set. Sampling happens per call, so two
// sessions for the same subject get independent random draws.
type QuestionBank struct {
	loader SubjectLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.Mutex
	cache map[string]cachedSubject
}

type cachedSubject struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionBank(loader SubjectLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSubject),
	}
}

// SampleQuestions returns up to limit questions for the subject, uniformly
// sampled without replacement. An unknown or empty subject yields an empty
// slice, not an error; the caller decides how fatal that is.
func (b *QuestionBank) SampleQuestions(ctx context.Context, subject string, limit int) ([]domain.Question, error) {
	all, err := b.subjectQuestions(ctx, subject)
	if err != nil {
		return nil, err
	}
	return sample(all, limit, b.rnd), nil
}

func (b *QuestionBank) subjectQuestions(ctx context.Context, subject string) ([]domain.Question, error) {
	now := b.clock()

	b.mu.Lock()
	if entry, ok := b.cache[subject]; ok && entry.expiresAt.After(now) {
		b.mu.Unlock()
		return entry.questions, nil
	}
	b.mu.Unlock()

	result, err, _ := b.sf.Do(subject, func() (interface{}, error) {
		now := b.clock()
		b.mu.Lock()
		if entry, ok := b.cache[subject]; ok && entry.expiresAt.After(now) {
			b.mu.Unlock()
			return entry.questions, nil
		}
		b.mu.Unlock()

		questions, err := b.loader.LoadSubject(ctx, subject)
		if err != nil {
			return nil, err
		}

		ttl := b.ttlWithJitter()
		b.mu.Lock()
		b.cache[subject] = cachedSubject{
			questions: questions,
			expiresAt: now.Add(ttl),
		}
		b.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(b.ttl) / 10
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}

// sample draws up to limit elements without replacement.
func sample(all []domain.Question, limit int, rnd *rand.Rand) []domain.Question {
	if limit <= 0 || len(all) == 0 {
		return nil
	}
	if limit > len(all) {
		limit = len(all)
	}
	picked := make([]domain.Question, 0, limit)
	for _, i := range rnd.Perm(len(all))[:limit] {
		picked = append(picked, all[i])
	}
	return picked
}

// StaticLoader serves questions from an in-memory map (tests and demos).
type StaticLoader struct {
	subjects map[string][]domain.Question
}

func NewStaticLoader(subjects map[string][]domain.Question) *StaticLoader {
	return &StaticLoader{subjects: subjects}
}

func (l *StaticLoader) LoadSubject(_ context.Context, subject string) ([]domain.Question, error) {
	return l.subjects[subject], nil
}
