package memory

import (
	"context"
	"sync"

	"trivia-match-service/internal/domain"
)

// MatchStore is an in-memory implementation of app.MatchStore.
type MatchStore struct {
	mu      sync.RWMutex
	matches map[string]domain.MatchSnapshot
}

func NewMatchStore() *MatchStore {
	return &MatchStore{
		matches: make(map[string]domain.MatchSnapshot),
	}
}

func (s *MatchStore) Upsert(_ context.Context, snapshot domain.MatchSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[snapshot.MatchID] = snapshot
	return nil
}

func (s *MatchStore) FindByID(_ context.Context, matchID string) (domain.MatchSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.matches[matchID]
	return snapshot, ok, nil
}

func (s *MatchStore) FindOpenByPlayer(_ context.Context, player string) ([]domain.MatchSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MatchSnapshot
	for _, snapshot := range s.matches {
		if snapshot.Status.Open() && snapshot.HasPlayer(player) {
			out = append(out, snapshot)
		}
	}
	return out, nil
}

func (s *MatchStore) DeleteByID(_ context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.matches, matchID)
	return nil
}

// Len returns the number of stored matches.
func (s *MatchStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}
