package app

import (
	"context"
	"time"

	"examprep-sync-service/internal/domain"
)

// DefaultSessionTTL bounds how long an interrupted attempt stays resumable.
const DefaultSessionTTL = 24 * time.Hour

// SessionManager persists and restores the single in-progress attempt slot
// of this device. A snapshot is honored only for its owning user and within
// the TTL; anything else is discarded, never reassigned. Route-awareness
// (suppressing a restore while the caller is already navigating to a fresh
// attempt) is the caller's job, not this type's.
type SessionManager struct {
	store SnapshotStore
	ttl   time.Duration
	clock Clock
}

func NewSessionManager(store SnapshotStore, ttl time.Duration) *SessionManager {
	return NewSessionManagerWithClock(store, ttl, time.Now)
}

// NewSessionManagerWithClock allows deterministic timestamps in tests.
func NewSessionManagerWithClock(store SnapshotStore, ttl time.Duration, clock Clock) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{store: store, ttl: ttl, clock: clock}
}

// Save overwrites the device-wide slot with the attempt's current state.
func (m *SessionManager) Save(ctx context.Context, snap domain.QuizSessionSnapshot) error {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = m.clock()
	}
	return m.store.Save(ctx, snap)
}

// Restore returns the saved snapshot if it belongs to currentUserID and has
// not expired. An expired, foreign, or unreadable snapshot is cleared and
// reported as absence; restoration itself is read-only. A non-nil error means
// the underlying store failed, not that the checks failed.
func (m *SessionManager) Restore(ctx context.Context, currentUserID string) (domain.QuizSessionSnapshot, bool, error) {
	snap, ok, err := m.store.Load(ctx)
	if err != nil {
		return domain.QuizSessionSnapshot{}, false, err
	}
	if !ok {
		return domain.QuizSessionSnapshot{}, false, nil
	}
	if snap.OwnerUserID != currentUserID || m.clock().Sub(snap.SavedAt) >= m.ttl {
		_ = m.store.Clear(ctx)
		return domain.QuizSessionSnapshot{}, false, nil
	}
	return snap, true, nil
}

// Clear drops the slot. Called on attempt completion or explicit abandonment.
func (m *SessionManager) Clear(ctx context.Context) error {
	return m.store.Clear(ctx)
}
