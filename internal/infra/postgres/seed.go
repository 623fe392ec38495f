package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	"exam-prep-service/internal/domain"
)

type questionRow struct {
	bun.BaseModel `bun:"table:questions"`

	ID      string `bun:"id,pk"`
	Subject string `bun:"subject"`
	Data    []byte `bun:"data,type:jsonb"`
}

// SeedQuestions upserts a question dump into the questions table. Rows keep
// whatever field naming the dump uses; normalization happens on load.
func SeedQuestions(ctx context.Context, db *bun.DB, questions []domain.Question) (int, error) {
	if len(questions) == 0 {
		return 0, nil
	}
	rows := make([]questionRow, 0, len(questions))
	for _, q := range questions {
		if q.ID == "" || q.Subject == "" {
			return 0, fmt.Errorf("question missing id or subject: %+v", q)
		}
		raw, err := json.Marshal(q)
		if err != nil {
			return 0, fmt.Errorf("encode question %s: %w", q.ID, err)
		}
		rows = append(rows, questionRow{ID: q.ID, Subject: q.Subject, Data: raw})
	}
	_, err := db.NewInsert().
		Model(&rows).
		On("CONFLICT (id) DO UPDATE").
		Set("subject = EXCLUDED.subject").
		Set("data = EXCLUDED.data").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert questions: %w", err)
	}
	return len(rows), nil
}
