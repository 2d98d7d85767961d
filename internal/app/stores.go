package app

import (
	"context"
	"time"

	"examprep-sync-service/internal/domain"
)

// ProfileStore is the local users-mirror slice of the device cache.
type ProfileStore interface {
	Profile(ctx context.Context) (domain.UserProfile, bool, error)
	SaveProfile(ctx context.Context, p domain.UserProfile) error
}

// BankStore holds the cached question bank, one blob per license,
// overwritten wholesale on refresh.
type BankStore interface {
	QuestionBank(ctx context.Context, licenseID string) (domain.QuestionBank, bool, error)
	SaveQuestionBank(ctx context.Context, bank domain.QuestionBank) error
}

// ResultQueue is the append-only queue of results awaiting delivery.
// MarkSynced promotes a result at most once.
type ResultQueue interface {
	Enqueue(ctx context.Context, r domain.PendingResult) error
	Pending(ctx context.Context) ([]domain.PendingResult, error)
	MarkSynced(ctx context.Context, localID string) error
}

// SnapshotStore is the single device-wide session-snapshot slot.
// Load reports ok=false for an empty or unreadable slot.
type SnapshotStore interface {
	Load(ctx context.Context) (domain.QuizSessionSnapshot, bool, error)
	Save(ctx context.Context, snap domain.QuizSessionSnapshot) error
	Clear(ctx context.Context) error
}

// CounterStore persists quota counters keyed by role-or-user key.
type CounterStore interface {
	Counter(ctx context.Context, key string) (domain.QuotaCounter, bool, error)
	SaveCounter(ctx context.Context, c domain.QuotaCounter) error
}

// RemoteStore is the authoritative backend, reachable only while online.
// SaveResult must be idempotent on the result's LocalID so that a drain
// interrupted between the remote ack and the local mark can be re-run
// without creating duplicates.
type RemoteStore interface {
	SaveResult(ctx context.Context, r domain.PendingResult) error
	FetchQuestionBank(ctx context.Context, licenseID string) (domain.QuestionBank, error)
	FetchProfile(ctx context.Context, userID string) (domain.UserProfile, error)
}

// Clock is injected where tests need deterministic time.
type Clock func() time.Time
