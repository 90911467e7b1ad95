package memory

import (
	"context"
	"sort"
	"sync"

	"allais-survey-service/internal/domain"
)

// ResponseStore is an in-memory implementation of app.ResponseRepository.
type ResponseStore struct {
	mu    sync.RWMutex
	byKey map[domain.ParticipantKey]*domain.StoredResponse
	order []domain.ParticipantKey
	codes map[string]struct{}
}

func NewResponseStore() *ResponseStore {
	return &ResponseStore{
		byKey: make(map[domain.ParticipantKey]*domain.StoredResponse),
		codes: make(map[string]struct{}),
	}
}

func (s *ResponseStore) FindByParticipant(_ context.Context, key domain.ParticipantKey) ([]domain.StoredResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.byKey[key]; ok {
		return []domain.StoredResponse{*r}, nil
	}
	return nil, nil
}

func (s *ResponseStore) FindByWorker(_ context.Context, workerID string) ([]domain.StoredResponse, error) {
	return s.filter(func(r *domain.StoredResponse) bool { return r.WorkerID == workerID }), nil
}

func (s *ResponseStore) FindByExperiment(_ context.Context, experimentID string) ([]domain.StoredResponse, error) {
	return s.filter(func(r *domain.StoredResponse) bool { return r.ExperimentID == experimentID }), nil
}

func (s *ResponseStore) Recent(ctx context.Context, experimentID string, limit int) ([]domain.StoredResponse, error) {
	rs, _ := s.FindByExperiment(ctx, experimentID)
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].CreatedAt.After(rs[j].CreatedAt) })
	if limit > 0 && len(rs) > limit {
		rs = rs[:limit]
	}
	return rs, nil
}

func (s *ResponseStore) Insert(_ context.Context, r domain.StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.Key()
	if _, ok := s.byKey[key]; ok {
		return domain.ErrDuplicateSubmission
	}
	if _, ok := s.codes[r.CompletionCode]; ok {
		return domain.ErrCompletionCodeTaken
	}
	s.byKey[key] = &r
	s.order = append(s.order, key)
	s.codes[r.CompletionCode] = struct{}{}
	return nil
}

func (s *ResponseStore) RecordDuplicate(_ context.Context, key domain.ParticipantKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byKey[key]
	if !ok {
		return domain.ErrResponseNotFound
	}
	r.DuplicateAttempts++
	return nil
}

func (s *ResponseStore) CodeExists(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.codes[code]
	return ok, nil
}

// filter returns copies in insertion order.
func (s *ResponseStore) filter(keep func(*domain.StoredResponse) bool) []domain.StoredResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StoredResponse
	for _, key := range s.order {
		if r := s.byKey[key]; keep(r) {
			out = append(out, *r)
		}
	}
	return out
}
