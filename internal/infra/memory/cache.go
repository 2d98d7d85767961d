package memory

import (
	"context"
	"sync"

	"examprep-sync-service/internal/domain"
)

// Cache is an in-memory stand-in for the on-device store. It backs fast unit
// tests and the demo wiring; production uses the sqlite store.
type Cache struct {
	mu       sync.RWMutex
	profile  *domain.UserProfile
	banks    map[string]domain.QuestionBank
	results  []domain.PendingResult
	snapshot *domain.QuizSessionSnapshot
	counters map[string]domain.QuotaCounter
}

func NewCache() *Cache {
	return &Cache{
		banks:    make(map[string]domain.QuestionBank),
		counters: make(map[string]domain.QuotaCounter),
	}
}

func (c *Cache) Profile(_ context.Context) (domain.UserProfile, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.profile == nil {
		return domain.UserProfile{}, false, nil
	}
	return *c.profile, true, nil
}

func (c *Cache) SaveProfile(_ context.Context, p domain.UserProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = &p
	return nil
}

func (c *Cache) QuestionBank(_ context.Context, licenseID string) (domain.QuestionBank, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bank, ok := c.banks[licenseID]
	return bank, ok, nil
}

func (c *Cache) SaveQuestionBank(_ context.Context, bank domain.QuestionBank) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banks[bank.LicenseID] = bank
	return nil
}

func (c *Cache) Enqueue(_ context.Context, r domain.PendingResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.SyncState = domain.SyncPending
	c.results = append(c.results, r)
	return nil
}

func (c *Cache) Pending(_ context.Context) ([]domain.PendingResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.PendingResult, 0, len(c.results))
	for _, r := range c.results {
		if r.SyncState == domain.SyncPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Cache) MarkSynced(_ context.Context, localID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.results {
		if c.results[i].LocalID == localID && c.results[i].SyncState == domain.SyncPending {
			c.results[i].SyncState = domain.SyncSynced
			return nil
		}
	}
	return nil
}

func (c *Cache) Load(_ context.Context) (domain.QuizSessionSnapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return domain.QuizSessionSnapshot{}, false, nil
	}
	return *c.snapshot, true, nil
}

func (c *Cache) Save(_ context.Context, snap domain.QuizSessionSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = &snap
	return nil
}

func (c *Cache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = nil
	return nil
}

func (c *Cache) Counter(_ context.Context, key string) (domain.QuotaCounter, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counter, ok := c.counters[key]
	return counter, ok, nil
}

func (c *Cache) SaveCounter(_ context.Context, counter domain.QuotaCounter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[counter.Key] = counter
	return nil
}
