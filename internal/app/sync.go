package app

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ProfileOutcome reports how profile reconciliation resolved.
type ProfileOutcome string

const (
	ProfileRemoteApplied ProfileOutcome = "remoteApplied"
	ProfileLocalKept     ProfileOutcome = "localKept"
	ProfileSkipped       ProfileOutcome = ""
)

// Report is the typed result of one coordinator pass. Phase errors are
// recorded here instead of being swallowed, so callers can choose to ignore
// them while tests and logs still observe them.
type Report struct {
	Drained    int
	DrainErr   error
	BankErr    error
	Profile    ProfileOutcome
	ProfileErr error
}

// SyncCoordinator reconciles the local cache with the remote store for one
// authenticated user. Phases run in fixed order: drain the pending-result
// queue, refresh the question bank wholesale, reconcile the profile mirror
// by last-write-wins. Each phase is idempotent and capped by a watchdog
// timeout; phase failures are independent.
type SyncCoordinator struct {
	remote   RemoteStore
	queue    ResultQueue
	banks    BankStore
	profiles ProfileStore

	userID       string
	licenseID    string
	phaseTimeout time.Duration

	// OnReport, when set, receives the report of each completed pass.
	OnReport func(Report)

	sf singleflight.Group

	mu         sync.Mutex
	running    bool
	pending    bool
	triggerCtx context.Context
}

func NewSyncCoordinator(remote RemoteStore, queue ResultQueue, banks BankStore, profiles ProfileStore, userID, licenseID string, phaseTimeout time.Duration) *SyncCoordinator {
	if phaseTimeout <= 0 {
		phaseTimeout = 30 * time.Second
	}
	return &SyncCoordinator{
		remote:       remote,
		queue:        queue,
		banks:        banks,
		profiles:     profiles,
		userID:       userID,
		licenseID:    licenseID,
		phaseTimeout: phaseTimeout,
	}
}

// Trigger requests a coordinator pass. At most one pass runs at a time;
// triggers arriving mid-pass coalesce into a single re-run scheduled right
// after the current one finishes. Each pass picks up the most recent
// trigger's context, so a caller cancelling its own trigger cannot take a
// later, still-live trigger down with it.
func (c *SyncCoordinator) Trigger(ctx context.Context) {
	c.mu.Lock()
	c.triggerCtx = ctx
	if c.running {
		c.pending = true
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.loop()
}

func (c *SyncCoordinator) loop() {
	for {
		c.mu.Lock()
		ctx := c.triggerCtx
		c.mu.Unlock()

		report := c.RunOnce(ctx)
		if c.OnReport != nil {
			c.OnReport(report)
		}

		c.mu.Lock()
		if !c.pending || c.triggerCtx.Err() != nil {
			c.running = false
			c.mu.Unlock()
			return
		}
		c.pending = false
		c.mu.Unlock()
	}
}

// RunOnce executes all three phases synchronously and returns the report.
// Safe to re-run from scratch at any time.
func (c *SyncCoordinator) RunOnce(ctx context.Context) Report {
	var report Report
	report.Drained, report.DrainErr = c.drain(ctx)
	report.BankErr = c.refreshBank(ctx)
	report.Profile, report.ProfileErr = c.reconcileProfile(ctx)
	return report
}

// drain writes pending results to the remote store in enqueue order. The
// first failure stops the pass (the backend is presumed down; hammering it
// with the rest of the queue helps nobody), leaving the remainder for the
// next trigger. MarkSynced is only called after the remote ack, and the
// remote write dedupes on LocalID, so a crash between the two is repaired
// by the next pass without duplicating the result.
func (c *SyncCoordinator) drain(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.phaseTimeout)
	defer cancel()

	pending, err := c.queue.Pending(ctx)
	if err != nil {
		return 0, err
	}

	drained := 0
	for _, r := range pending {
		if err := c.remote.SaveResult(ctx, r); err != nil {
			return drained, err
		}
		if err := c.queue.MarkSynced(ctx, r.LocalID); err != nil {
			return drained, err
		}
		drained++
	}
	return drained, nil
}

// refreshBank fetches the current bank snapshot and overwrites the local
// copy as one unit. Concurrent refreshes for the same license collapse into
// a single fetch.
func (c *SyncCoordinator) refreshBank(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.phaseTimeout)
	defer cancel()

	_, err, _ := c.sf.Do(c.licenseID, func() (interface{}, error) {
		bank, err := c.remote.FetchQuestionBank(ctx, c.licenseID)
		if err != nil {
			return nil, err
		}
		bank.RefreshedAt = time.Now().UTC()
		return nil, c.banks.SaveQuestionBank(ctx, bank)
	})
	return err
}

// reconcileProfile resolves profile divergence by last-write-wins. Ties
// favor the remote copy (remote is authoritative). A strictly newer local
// copy can only come from clock skew, since profiles are never edited
// offline; it is kept and logged, never pushed back.
func (c *SyncCoordinator) reconcileProfile(ctx context.Context) (ProfileOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.phaseTimeout)
	defer cancel()

	remote, err := c.remote.FetchProfile(ctx, c.userID)
	if err != nil {
		return ProfileSkipped, err
	}

	local, ok, err := c.profiles.Profile(ctx)
	if err != nil {
		return ProfileSkipped, err
	}

	if ok && local.UpdatedAt.After(remote.UpdatedAt) {
		log.Printf("profile divergence: local copy of %s is newer than remote (%s > %s), keeping local",
			c.userID, local.UpdatedAt.Format(time.RFC3339), remote.UpdatedAt.Format(time.RFC3339))
		return ProfileLocalKept, nil
	}
	if err := c.profiles.SaveProfile(ctx, remote); err != nil {
		return ProfileSkipped, err
	}
	return ProfileRemoteApplied, nil
}
