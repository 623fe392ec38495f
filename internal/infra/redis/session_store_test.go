package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"exam-prep-service/internal/domain"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(newTestClient(t), time.Hour)

	if _, ok, err := store.Load(ctx, "polity"); ok || err != nil {
		t.Fatalf("empty load: ok=%v err=%v", ok, err)
	}

	snap := domain.SessionSnapshot{
		Active:       true,
		Subject:      "polity",
		TimeLeft:     110,
		CurrentIndex: 3,
		Answers:      map[int]int{0: 2},
		Bookmarks:    []string{"q7"},
	}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := store.Load(ctx, "polity")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.TimeLeft != 110 || got.CurrentIndex != 3 || got.Answers[0] != 2 {
		t.Fatalf("snapshot mismatch: %+v", got)
	}

	if err := store.Clear(ctx, "polity"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := store.Load(ctx, "polity"); ok {
		t.Fatalf("expected record cleared")
	}
}

func TestSessionStoreDropsCorruptRecord(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	store := NewSessionStore(client, time.Hour)

	if err := client.Set(ctx, "prep:session:polity", "{not json", 0).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, ok, err := store.Load(ctx, "polity"); ok || err == nil {
		t.Fatalf("corrupt load: ok=%v err=%v", ok, err)
	}

	// the bad record must be gone so the next load is a clean miss
	if _, ok, err := store.Load(ctx, "polity"); ok || err != nil {
		t.Fatalf("reload after corrupt record: ok=%v err=%v", ok, err)
	}
}
