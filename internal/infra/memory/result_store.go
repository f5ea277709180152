package memory

import (
	"context"
	"sort"
	"sync"

	"agile-quiz-service/internal/domain"
)

// ResultStore is an in-memory remote store stand-in used when no Postgres URL
// is configured and by tests. Writes are idempotent on result id.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]domain.QuizResult
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]domain.QuizResult)}
}

func (s *ResultStore) SaveResult(_ context.Context, result domain.QuizResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// first write wins; a retried id must not overwrite the accepted copy
	if _, ok := s.results[result.ResultID]; !ok {
		s.results[result.ResultID] = result
	}
	return nil
}

func (s *ResultStore) ListResults(_ context.Context, learnerID string) ([]domain.QuizResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.QuizResult, 0, len(s.results))
	for _, r := range s.results {
		if learnerID != "" && r.LearnerID != learnerID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ResultID < out[j].ResultID
	})
	return out, nil
}

// Len reports the number of stored results.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
