package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"examprep-sync-service/internal/domain"
)

// ResultRecorder hands a finished attempt result to the remote store, or to
// the local queue when the remote is unreachable. Losing a submitted result
// is the one unacceptable failure mode, so the recorder only gives up after
// the remote write, the local enqueue, and one last best-effort remote retry
// have all failed.
type ResultRecorder struct {
	remote RemoteStore
	queue  ResultQueue
	clock  Clock
}

func NewResultRecorder(remote RemoteStore, queue ResultQueue) *ResultRecorder {
	return &ResultRecorder{remote: remote, queue: queue, clock: time.Now}
}

// NewResultRecorderWithClock is test-only for deterministic timestamps.
func NewResultRecorderWithClock(remote RemoteStore, queue ResultQueue, clock Clock) *ResultRecorder {
	return &ResultRecorder{remote: remote, queue: queue, clock: clock}
}

// Record persists a finished result. A zero LocalID is assigned here; the ID
// travels with the result to the remote store and dedupes retried writes.
// Returns domain.ErrResultNotSaved only when every persistence path failed.
func (r *ResultRecorder) Record(ctx context.Context, result domain.PendingResult) error {
	if result.LocalID == "" {
		result.LocalID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = r.clock()
	}
	result.SyncState = domain.SyncPending

	remoteErr := r.remote.SaveResult(ctx, result)
	if remoteErr == nil {
		return nil
	}

	queueErr := r.queue.Enqueue(ctx, result)
	if queueErr == nil {
		return nil
	}
	log.Printf("result enqueue failed (local_id=%s): %v", result.LocalID, queueErr)

	// Local storage is broken: one last direct attempt before surfacing
	// the hard error.
	if err := r.remote.SaveResult(ctx, result); err == nil {
		return nil
	}
	log.Printf("result %s lost both remote and local persistence: %v", result.LocalID, remoteErr)
	return domain.ErrResultNotSaved
}
