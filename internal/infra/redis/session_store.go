package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"exam-prep-service/internal/domain"
)

// SessionStore persists the live session snapshot in Redis so a session
// orphaned by an unclean exit can be recovered on the next start. One key per
// subject; the TTL caps how stale an orphan can get before it silently
// expires.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Load(ctx context.Context, subject string) (domain.SessionSnapshot, bool, error) {
	raw, err := s.client.Get(ctx, s.key(subject)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SessionSnapshot{}, false, nil
	}
	if err != nil {
		return domain.SessionSnapshot{}, false, fmt.Errorf("load session record: %w", err)
	}
	var snap domain.SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		// The engine treats an unreadable record as no orphan; drop it so the
		// next load doesn't trip over it again.
		_ = s.client.Del(ctx, s.key(subject)).Err()
		return domain.SessionSnapshot{}, false, fmt.Errorf("decode session record: %w", err)
	}
	return snap, true, nil
}

func (s *SessionStore) Save(ctx context.Context, snap domain.SessionSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snap.Subject), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

func (s *SessionStore) Clear(ctx context.Context, subject string) error {
	if err := s.client.Del(ctx, s.key(subject)).Err(); err != nil {
		return fmt.Errorf("clear session record: %w", err)
	}
	return nil
}

func (s *SessionStore) key(subject string) string {
	return "prep:session:" + subject
}
