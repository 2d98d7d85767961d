package memory

import (
	"context"
	"sync"

	"examprep-sync-service/internal/domain"
)

// RemoteStore is an in-memory stand-in for the authoritative backend
// (useful for tests/demos). Result writes dedupe on LocalID, matching the
// idempotency contract of the real store.
type RemoteStore struct {
	mu       sync.RWMutex
	profiles map[string]domain.UserProfile
	banks    map[string]domain.QuestionBank
	results  map[string]domain.PendingResult
}

func NewRemoteStore() *RemoteStore {
	return &RemoteStore{
		profiles: make(map[string]domain.UserProfile),
		banks:    make(map[string]domain.QuestionBank),
		results:  make(map[string]domain.PendingResult),
	}
}

func (s *RemoteStore) SeedProfile(p domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

func (s *RemoteStore) SeedBank(bank domain.QuestionBank) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banks[bank.LicenseID] = bank
}

func (s *RemoteStore) SaveResult(_ context.Context, r domain.PendingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[r.LocalID]; ok {
		return nil
	}
	s.results[r.LocalID] = r
	return nil
}

// Results returns all stored results, for assertions.
func (s *RemoteStore) Results() []domain.PendingResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PendingResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	return out
}

func (s *RemoteStore) FetchQuestionBank(_ context.Context, licenseID string) (domain.QuestionBank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bank, ok := s.banks[licenseID]
	if !ok {
		return domain.QuestionBank{}, domain.ErrBankNotFound
	}
	return bank, nil
}

func (s *RemoteStore) FetchProfile(_ context.Context, userID string) (domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return domain.UserProfile{}, domain.ErrProfileNotFound
	}
	return p, nil
}
