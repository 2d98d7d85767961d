package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"examprep-sync-service/internal/domain"
)

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool
	Remaining int
	Message   string
}

// QuotaEnforcer gates quota-limited actions (start practice, start exam)
// against per-role policies. Window reset is lazy: the current window is
// derived from the clock on every check, never from a cached boundary, so a
// stale counter self-corrects to zero.
type QuotaEnforcer struct {
	policies map[string]domain.QuotaPolicy
	counters CounterStore
	clock    Clock
}

func NewQuotaEnforcer(policies map[string]domain.QuotaPolicy, counters CounterStore) *QuotaEnforcer {
	return NewQuotaEnforcerWithClock(policies, counters, time.Now)
}

// NewQuotaEnforcerWithClock allows deterministic window boundaries in tests.
func NewQuotaEnforcerWithClock(policies map[string]domain.QuotaPolicy, counters CounterStore, clock Clock) *QuotaEnforcer {
	return &QuotaEnforcer{policies: policies, counters: counters, clock: clock}
}

// Check reports whether key (a role or user key) may perform a gated action
// under role's policy. Roles without a policy, and disabled policies, are
// always allowed.
func (e *QuotaEnforcer) Check(ctx context.Context, key, role string) (Decision, error) {
	policy, ok := e.policies[role]
	if !ok || !policy.Enabled {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	count, err := e.currentCount(ctx, key, policy.Period)
	if err != nil {
		return Decision{}, err
	}
	if count < policy.Limit {
		return Decision{Allowed: true, Remaining: policy.Limit - count}, nil
	}
	return Decision{Allowed: false, Message: expandMessage(policy)}, nil
}

// Consume increments the counter for the current window. Callers invoke it
// only after an allowed Check; the pair need not be atomic on a single
// device, but Consume re-derives the window itself rather than trusting one
// computed earlier.
func (e *QuotaEnforcer) Consume(ctx context.Context, key, role string) error {
	policy, ok := e.policies[role]
	if !ok || !policy.Enabled {
		return nil
	}

	start := windowStart(e.clock(), policy.Period)
	counter, found, err := e.counters.Counter(ctx, counterKey(key, policy.Period))
	if err != nil {
		return err
	}
	if !found || counter.WindowStart.Before(start) {
		counter = domain.QuotaCounter{
			Key:         counterKey(key, policy.Period),
			Period:      policy.Period,
			WindowStart: start,
		}
	}
	counter.Count++
	return e.counters.SaveCounter(ctx, counter)
}

func (e *QuotaEnforcer) currentCount(ctx context.Context, key string, period domain.PeriodKind) (int, error) {
	counter, found, err := e.counters.Counter(ctx, counterKey(key, period))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	// A counter from a previous window counts as zero, never negative.
	if counter.WindowStart.Before(windowStart(e.clock(), period)) {
		return 0, nil
	}
	return counter.Count, nil
}

func counterKey(key string, period domain.PeriodKind) string {
	return key + ":" + string(period)
}

// windowStart maps now onto the start of its quota window in UTC: midnight
// for daily, Monday midnight for weekly.
func windowStart(now time.Time, period domain.PeriodKind) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if period != domain.PeriodWeekly {
		return day
	}
	offset := (int(day.Weekday()) + 6) % 7 // days since Monday
	return day.AddDate(0, 0, -offset)
}

func expandMessage(policy domain.QuotaPolicy) string {
	msg := policy.Message
	if msg == "" {
		msg = "usage limit of {limit} per {period} reached"
	}
	msg = strings.ReplaceAll(msg, "{limit}", strconv.Itoa(policy.Limit))
	return strings.ReplaceAll(msg, "{period}", string(policy.Period))
}
