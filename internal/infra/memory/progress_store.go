package memory

import (
	"context"
	"sort"
	"sync"

	"exam-prep-service/internal/domain"
)

// ProgressStore is an in-memory implementation of app.ProgressStore.
type ProgressStore struct {
	mu       sync.RWMutex
	results  []domain.Result
	academic map[string]domain.AcademicState
	profile  *domain.BehavioralProfile
}

func NewProgressStore() *ProgressStore {
	return &ProgressStore{academic: make(map[string]domain.AcademicState)}
}

func (s *ProgressStore) AppendResult(_ context.Context, r domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func (s *ProgressStore) Results(_ context.Context) ([]domain.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Result, len(s.results))
	copy(out, s.results)
	return out, nil
}

func (s *ProgressStore) AcademicState(_ context.Context, subject string) (domain.AcademicState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.academic[subject]
	return st, ok, nil
}

func (s *ProgressStore) PutAcademicState(_ context.Context, st domain.AcademicState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.academic[st.Subject] = st
	return nil
}

// AcademicStates returns all subjects sorted by name, so callers deriving
// cache signatures from the scan see a stable order.
func (s *ProgressStore) AcademicStates(_ context.Context) ([]domain.AcademicState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AcademicState, 0, len(s.academic))
	for _, st := range s.academic {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out, nil
}

func (s *ProgressStore) Profile(_ context.Context) (domain.BehavioralProfile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return domain.BehavioralProfile{}, false, nil
	}
	return *s.profile, true, nil
}

// PutProfile stores the behavioral profile. The core never writes profiles;
// this exists for seeding and tests.
func (s *ProgressStore) PutProfile(_ context.Context, p domain.BehavioralProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = &p
	return nil
}
