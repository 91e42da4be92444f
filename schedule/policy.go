// Package schedule decides when the refresh orchestrator runs: the periodic
// cycle with its per-installation jitter, catch-up after downtime, the
// cooldown between primary triggers, one-shot retries after failures, and
// automatic suspension after repeated ones.
//
// All mutations of the persisted auto-check metadata go through MetaService;
// the metadata is read-only to every other component.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/hazyhaar/portalwatch/refresh"
	"github.com/hazyhaar/portalwatch/store"
)

// Trigger identifies what kind of invocation produced an outcome.
type Trigger int

const (
	TriggerPrimary Trigger = iota // Scheduler-initiated periodic run.
	TriggerRetry                  // The one-shot retry after a primary failure.
	TriggerManual                 // User-initiated run-now.
)

// String returns the trigger's audit-log name.
func (t Trigger) String() string {
	switch t {
	case TriggerRetry:
		return "retry"
	case TriggerManual:
		return "manual"
	default:
		return "primary"
	}
}

// Decision tells the scheduler what to do after an outcome was recorded.
type Decision struct {
	// ScheduleRetry asks for exactly one one-shot retry.
	ScheduleRetry bool
	// Suspended is set when this outcome tripped the failure threshold:
	// cancel all pending triggers and emit the suspension notice once.
	Suspended bool
}

// MetaService is the single owner of the persisted auto-check metadata.
type MetaService struct {
	store  *store.Store
	logger *slog.Logger

	failureThreshold int
	now              func() time.Time
	randInt          func(n int) int
}

// MetaOption configures a MetaService.
type MetaOption func(*MetaService)

// WithMetaClock sets a custom clock (for testing).
func WithMetaClock(now func() time.Time) MetaOption {
	return func(m *MetaService) { m.now = now }
}

// WithMetaRand sets the random source used for the catch-up delay.
func WithMetaRand(randInt func(n int) int) MetaOption {
	return func(m *MetaService) { m.randInt = randInt }
}

// WithFailureThreshold overrides the consecutive-failure count that
// suspends auto-checking. Default: 3.
func WithFailureThreshold(n int) MetaOption {
	return func(m *MetaService) { m.failureThreshold = n }
}

// NewMetaService creates the metadata owner.
func NewMetaService(s *store.Store, logger *slog.Logger, opts ...MetaOption) *MetaService {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MetaService{
		store:            s,
		logger:           logger,
		failureThreshold: 3,
		now:              time.Now,
		randInt:          rand.Intn,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RecordAttemptStart stamps last_attempt before the orchestrator is
// invoked, so a crash mid-attempt still counts toward the cooldown.
func (m *MetaService) RecordAttemptStart(ctx context.Context) error {
	meta, err := m.store.Meta(ctx)
	if err != nil {
		return err
	}
	meta.LastAttempt = m.now()
	return m.store.SaveMeta(ctx, meta)
}

// RecordOutcome applies the failure policy to one attempt outcome.
//
// Success resets the consecutive-failure count. Maintenance, needs-login,
// and busy outcomes are never counted: they are external causes, not
// flakiness. A generic failure on a primary trigger increments the count
// and asks for exactly one retry; a failure on the retry itself neither
// increments nor re-schedules, so failures are counted per cycle, not per
// attempt. Manual outcomes reset on success but never count toward
// suspension.
func (m *MetaService) RecordOutcome(ctx context.Context, res refresh.Result, trigger Trigger) (Decision, error) {
	meta, err := m.store.Meta(ctx)
	if err != nil {
		return Decision{}, err
	}

	switch {
	case res.Success:
		meta.ConsecutiveFailures = 0
		if err := m.store.SaveMeta(ctx, meta); err != nil {
			return Decision{}, err
		}
		return Decision{}, nil

	case !res.CountsAsFailure():
		return Decision{}, nil

	case trigger == TriggerPrimary:
		meta.ConsecutiveFailures++
		if meta.ConsecutiveFailures >= m.failureThreshold {
			meta.DisabledByFailure = true
			if err := m.store.SaveMeta(ctx, meta); err != nil {
				return Decision{}, err
			}
			m.logger.Warn("schedule: auto-check suspended",
				"consecutive_failures", meta.ConsecutiveFailures)
			return Decision{Suspended: true}, nil
		}
		if err := m.store.SaveMeta(ctx, meta); err != nil {
			return Decision{}, err
		}
		return Decision{ScheduleRetry: true}, nil

	default:
		// Retry and manual failures leave the count untouched.
		return Decision{}, nil
	}
}

// ClearSuspension lifts disabled_by_failure and resets the failure count.
// Called by the scheduler once the resume window has passed.
func (m *MetaService) ClearSuspension(ctx context.Context) error {
	meta, err := m.store.Meta(ctx)
	if err != nil {
		return err
	}
	if !meta.DisabledByFailure {
		return nil
	}
	meta.DisabledByFailure = false
	meta.ConsecutiveFailures = 0
	if err := m.store.SaveMeta(ctx, meta); err != nil {
		return fmt.Errorf("schedule: clear suspension: %w", err)
	}
	m.logger.Info("schedule: suspension lifted")
	return nil
}

// ComputeNextDelay returns the delay until the next primary trigger.
//
// Never attempted: jitter+1 minutes, the fixed per-installation offset that
// desynchronizes first runs across the population. A full interval or more
// since the last attempt (device was off): a randomized 1-3 minute catch-up.
// Otherwise: the remainder until the next interval boundary.
func (m *MetaService) ComputeNextDelay(meta store.Meta, cfg store.Settings, now time.Time) time.Duration {
	interval := cfg.AutoCheckInterval
	if interval <= 0 {
		interval = 180 * time.Minute
	}

	if meta.LastAttempt.IsZero() {
		return cfg.AutoCheckJitter + time.Minute
	}

	since := now.Sub(meta.LastAttempt)
	if since >= interval {
		return time.Minute + time.Duration(m.randInt(121))*time.Second
	}
	return interval - since
}
