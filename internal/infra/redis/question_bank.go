package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"exam-prep-service/internal/domain"
	"exam-prep-service/internal/infra/memory"
)

// QuestionBank caches each subject's question set in Redis and samples from it
// with SRANDMEMBER. Per subject it keeps:
//
//	SADD prep:questions:{subject}:ids  {questionID...}
//	HSET prep:questions:{subject}      {questionID} {question JSON}
//
// On a cache miss the backing loader fills both keys (singleflight keeps
// concurrent misses to one load).
type QuestionBank struct {
	client *redis.Client
	loader memory.SubjectLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionBank(client *redis.Client, loader memory.SubjectLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SampleQuestions draws up to limit random question IDs for the subject and
// resolves them from the hash. An unseeded subject yields an empty slice.
func (b *QuestionBank) SampleQuestions(ctx context.Context, subject string, limit int) ([]domain.Question, error) {
	ids, err := b.client.SRandMemberN(ctx, b.idsKey(subject), int64(limit)).Result()
	if err == nil && len(ids) > 0 {
		return b.resolve(ctx, subject, ids)
	}

	_, err, _ = b.sf.Do(subject, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		n, err := b.client.SCard(ctx, b.idsKey(subject)).Result()
		if err == nil && n > 0 {
			return nil, nil
		}
		questions, err := b.loader.LoadSubject(ctx, subject)
		if err != nil {
			return nil, err
		}
		if len(questions) == 0 {
			return nil, nil
		}

		pipe := b.client.Pipeline()
		for _, q := range questions {
			raw, err := json.Marshal(q)
			if err != nil {
				return nil, fmt.Errorf("encode question %s: %w", q.ID, err)
			}
			pipe.SAdd(ctx, b.idsKey(subject), q.ID)
			pipe.HSet(ctx, b.questionsKey(subject), q.ID, raw)
		}
		if b.ttl > 0 {
			ttl := b.ttlWithJitter()
			pipe.Expire(ctx, b.idsKey(subject), ttl)
			pipe.Expire(ctx, b.questionsKey(subject), ttl)
		}
		_, err = pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return nil, fmt.Errorf("fill question cache: %w", err)
	}

	ids, err = b.client.SRandMemberN(ctx, b.idsKey(subject), int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("sample question ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return b.resolve(ctx, subject, ids)
}

func (b *QuestionBank) resolve(ctx context.Context, subject string, ids []string) ([]domain.Question, error) {
	raws, err := b.client.HMGet(ctx, b.questionsKey(subject), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("resolve questions: %w", err)
	}
	questions := make([]domain.Question, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var q domain.Question
		if err := json.Unmarshal([]byte(str), &q); err != nil {
			return nil, fmt.Errorf("decode question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, nil
}

func (b *QuestionBank) idsKey(subject string) string {
	return "prep:questions:" + subject + ":ids"
}

func (b *QuestionBank) questionsKey(subject string) string {
	return "prep:questions:" + subject
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	jitterMax := int64(b.ttl) / 10
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}
