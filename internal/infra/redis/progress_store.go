package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"exam-prep-service/internal/domain"
)

const (
	historyKey  = "prep:history"
	academicKey = "prep:academic"
	profileKey  = "prep:profile"
)

// ProgressStore keeps results history as a Redis list, academic state as a
// hash keyed by subject, and the behavioral profile as a plain JSON key.
type ProgressStore struct {
	client *redis.Client
}

func NewProgressStore(client *redis.Client) *ProgressStore {
	return &ProgressStore{client: client}
}

func (s *ProgressStore) AppendResult(ctx context.Context, r domain.Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := s.client.RPush(ctx, historyKey, raw).Err(); err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	return nil
}

func (s *ProgressStore) Results(ctx context.Context) ([]domain.Result, error) {
	raws, err := s.client.LRange(ctx, historyKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	results := make([]domain.Result, 0, len(raws))
	for _, raw := range raws {
		var r domain.Result
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *ProgressStore) AcademicState(ctx context.Context, subject string) (domain.AcademicState, bool, error) {
	raw, err := s.client.HGet(ctx, academicKey, subject).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.AcademicState{}, false, nil
	}
	if err != nil {
		return domain.AcademicState{}, false, fmt.Errorf("load academic state: %w", err)
	}
	var st domain.AcademicState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.AcademicState{}, false, fmt.Errorf("decode academic state: %w", err)
	}
	return st, true, nil
}

func (s *ProgressStore) PutAcademicState(ctx context.Context, st domain.AcademicState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode academic state: %w", err)
	}
	if err := s.client.HSet(ctx, academicKey, st.Subject, raw).Err(); err != nil {
		return fmt.Errorf("save academic state: %w", err)
	}
	return nil
}

// AcademicStates scans the full hash, sorted by subject for stable signatures.
func (s *ProgressStore) AcademicStates(ctx context.Context) ([]domain.AcademicState, error) {
	entries, err := s.client.HGetAll(ctx, academicKey).Result()
	if err != nil {
		return nil, fmt.Errorf("scan academic states: %w", err)
	}
	states := make([]domain.AcademicState, 0, len(entries))
	for _, raw := range entries {
		var st domain.AcademicState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("decode academic state: %w", err)
		}
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Subject < states[j].Subject })
	return states, nil
}

func (s *ProgressStore) Profile(ctx context.Context) (domain.BehavioralProfile, bool, error) {
	raw, err := s.client.Get(ctx, profileKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.BehavioralProfile{}, false, nil
	}
	if err != nil {
		return domain.BehavioralProfile{}, false, fmt.Errorf("load profile: %w", err)
	}
	var p domain.BehavioralProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.BehavioralProfile{}, false, fmt.Errorf("decode profile: %w", err)
	}
	return p, true, nil
}

// PutProfile stores the behavioral profile. Written by the profiling pipeline,
// read-only to the core.
func (s *ProgressStore) PutProfile(ctx context.Context, p domain.BehavioralProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := s.client.Set(ctx, profileKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
