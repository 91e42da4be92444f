package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/portalwatch/idgen"
	"github.com/hazyhaar/portalwatch/notify"
	"github.com/hazyhaar/portalwatch/refresh"
	"github.com/hazyhaar/portalwatch/store"
)

// Runner invokes one refresh attempt. *refresh.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context) refresh.Result
	InFlight() bool
}

// CredentialChecker is the existence-only view of the vault.
type CredentialChecker interface {
	HasCredentials(ctx context.Context) (bool, error)
}

// Config controls the scheduler's fixed policy delays. The periodic
// interval itself lives in the persisted settings, not here.
type Config struct {
	// RetryDelay is the one-shot retry delay after a primary failure.
	RetryDelay time.Duration
	// Cooldown is the minimum spacing enforced between primary triggers.
	// Retry triggers bypass it; they exist specifically to fire sooner.
	Cooldown time.Duration
	// ResumeAfter is how old last_attempt must be before a
	// failure-suspended schedule resumes.
	ResumeAfter time.Duration
}

// errorRetryDelay is the fallback arm used when a fire-time store read
// fails. A transient error must not leave the schedule with no timer.
const errorRetryDelay = time.Minute

func (c *Config) defaults() {
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 90 * time.Minute
	}
	if c.ResumeAfter <= 0 {
		c.ResumeAfter = 24 * time.Hour
	}
}

// Scheduler arms the timers that invoke the orchestrator and feeds every
// outcome back into the failure policy. Reschedule is idempotent: it always
// cancels pending triggers before computing new ones.
type Scheduler struct {
	store    *store.Store
	meta     *MetaService
	runner   Runner
	creds    CredentialChecker
	notifier notify.Notifier
	cfg      Config
	logger   *slog.Logger

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer
	newID     idgen.Generator

	mu           sync.Mutex
	primaryTimer *time.Timer
	retryTimer   *time.Timer
	stopped      bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock sets a custom clock (for testing).
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithAfterFunc sets the timer factory (for testing).
func WithAfterFunc(af func(d time.Duration, f func()) *time.Timer) SchedulerOption {
	return func(s *Scheduler) { s.afterFunc = af }
}

// New creates a Scheduler. Call Reschedule to arm it.
func New(st *store.Store, meta *MetaService, runner Runner, creds CredentialChecker,
	notifier notify.Notifier, cfg Config, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {

	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = &notify.LogNotifier{Logger: logger}
	}
	s := &Scheduler{
		store:     st,
		meta:      meta,
		runner:    runner,
		creds:     creds,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		afterFunc: time.AfterFunc,
		newID:     idgen.UUIDv7(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Reschedule cancels all pending triggers and arms the next primary one.
// It leaves nothing scheduled when auto-check is disabled, no credentials
// are stored, or the schedule is failure-suspended with the resume window
// still open.
func (s *Scheduler) Reschedule(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	if s.stopped {
		return nil
	}

	cfg, err := s.store.Settings(ctx)
	if err != nil {
		return err
	}
	if !cfg.AutoCheckEnabled {
		s.logger.Debug("schedule: auto-check disabled, nothing scheduled")
		return nil
	}

	has, err := s.creds.HasCredentials(ctx)
	if err != nil {
		return err
	}
	if !has {
		s.logger.Debug("schedule: no credentials, nothing scheduled")
		return nil
	}

	meta, err := s.store.Meta(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	if meta.DisabledByFailure {
		if meta.LastAttempt.IsZero() || now.Sub(meta.LastAttempt) < s.cfg.ResumeAfter {
			s.logger.Info("schedule: suspended by failures, not scheduling",
				"last_attempt", meta.LastAttempt)
			return nil
		}
		if err := s.meta.ClearSuspension(ctx); err != nil {
			return err
		}
		meta.DisabledByFailure = false
		meta.ConsecutiveFailures = 0
	}

	delay := s.meta.ComputeNextDelay(meta, cfg, now)
	s.primaryTimer = s.afterFunc(delay, s.onPrimaryFire)
	s.logger.Info("schedule: primary trigger armed", "delay", delay)
	return nil
}

// RunNow executes a manual refresh immediately, sharing the orchestrator's
// guard with scheduled runs. The manual run stamps last_attempt, so it
// starts a fresh cooldown window for primary triggers.
func (s *Scheduler) RunNow(ctx context.Context) refresh.Result {
	res := s.invoke(ctx, TriggerManual)
	s.rescheduleOrRecover(ctx)
	return res
}

// Stop cancels all pending triggers permanently.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.cancelLocked()
}

// Pending reports which triggers are currently armed (for tests and the
// status endpoint).
func (s *Scheduler) Pending() (primary, retry bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primaryTimer != nil, s.retryTimer != nil
}

func (s *Scheduler) cancelLocked() {
	if s.primaryTimer != nil {
		s.primaryTimer.Stop()
		s.primaryTimer = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Scheduler) onPrimaryFire() {
	defer s.recoverFire("primary")
	ctx := context.Background()

	s.mu.Lock()
	s.primaryTimer = nil
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	ok, err := s.validate(ctx)
	if err != nil {
		s.logger.Error("schedule: fire-time validation failed", "error", err)
		s.armRecovery("primary", s.onPrimaryFire)
		return
	}
	if !ok {
		return
	}

	meta, err := s.store.Meta(ctx)
	if err != nil {
		s.logger.Error("schedule: read meta failed", "error", err)
		s.armRecovery("primary", s.onPrimaryFire)
		return
	}

	// Cooldown applies to primary triggers only.
	if !meta.LastAttempt.IsZero() && s.now().Sub(meta.LastAttempt) < s.cfg.Cooldown {
		s.logger.Info("schedule: within cooldown, skipping primary trigger",
			"last_attempt", meta.LastAttempt)
		s.rescheduleOrRecover(ctx)
		return
	}

	s.invoke(ctx, TriggerPrimary)
}

func (s *Scheduler) onRetryFire() {
	defer s.recoverFire("retry")
	ctx := context.Background()

	s.mu.Lock()
	s.retryTimer = nil
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	ok, err := s.validate(ctx)
	if err != nil {
		s.logger.Error("schedule: fire-time validation failed", "error", err)
		s.armRecovery("retry", s.onRetryFire)
		return
	}
	if !ok {
		return
	}

	// No cooldown: the retry exists specifically to fire sooner.
	s.invoke(ctx, TriggerRetry)
}

// invoke records the attempt start, runs the orchestrator, audits the
// outcome, and applies the failure policy's decision.
func (s *Scheduler) invoke(ctx context.Context, trigger Trigger) refresh.Result {
	// A rejected run must not stamp last_attempt or leave an audit row,
	// so check the guard before touching metadata. Run re-checks it.
	if s.runner.InFlight() {
		if trigger != TriggerManual {
			s.rescheduleOrRecover(ctx)
		}
		return refresh.Result{
			Code:     refresh.CodeBusy,
			CodeName: refresh.CodeBusy.String(),
			Err:      "refresh: attempt already in flight",
		}
	}

	started := s.now()

	if err := s.meta.RecordAttemptStart(ctx); err != nil {
		s.logger.Error("schedule: record attempt start failed", "error", err)
	}

	res := s.runner.Run(ctx)

	if err := s.store.RecordAttempt(ctx, store.Attempt{
		ID:         s.newID(),
		Trigger:    trigger.String(),
		Code:       res.CodeName,
		Success:    res.Success,
		Error:      res.Err,
		StartedAt:  started,
		FinishedAt: s.now(),
	}); err != nil {
		s.logger.Error("schedule: audit attempt failed", "error", err)
	}

	decision, err := s.meta.RecordOutcome(ctx, res, trigger)
	if err != nil {
		s.logger.Error("schedule: record outcome failed", "error", err)
		if trigger != TriggerManual {
			s.rescheduleOrRecover(ctx)
		}
		return res
	}

	switch {
	case decision.Suspended:
		s.mu.Lock()
		s.cancelLocked()
		s.mu.Unlock()
		s.emitSuspensionNotice(ctx)
	case decision.ScheduleRetry:
		// The recurring cycle continues alongside the one-shot retry.
		// Reschedule first: it cancels every pending trigger, so the
		// retry must be armed after it.
		if trigger != TriggerManual {
			s.rescheduleOrRecover(ctx)
		}
		s.armRetry()
	default:
		if trigger != TriggerManual {
			s.rescheduleOrRecover(ctx)
		}
	}

	return res
}

func (s *Scheduler) armRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryTimer = s.afterFunc(s.cfg.RetryDelay, s.onRetryFire)
	s.logger.Info("schedule: retry trigger armed", "delay", s.cfg.RetryDelay)
}

// validate re-checks enablement and credentials at fire time; settings may
// have changed while the timer was pending. A false with a nil error is a
// legitimate no-op (disabled or no credentials); a non-nil error is a
// transient read failure the caller must recover from.
func (s *Scheduler) validate(ctx context.Context) (bool, error) {
	cfg, err := s.store.Settings(ctx)
	if err != nil {
		return false, err
	}
	if !cfg.AutoCheckEnabled {
		return false, nil
	}
	has, err := s.creds.HasCredentials(ctx)
	if err != nil {
		return false, err
	}
	return has, nil
}

// rescheduleOrRecover arms the next primary trigger, falling back to a
// short recovery arm when the store reads behind Reschedule fail.
func (s *Scheduler) rescheduleOrRecover(ctx context.Context) {
	if err := s.Reschedule(ctx); err != nil {
		s.logger.Error("schedule: reschedule failed", "error", err)
		s.armRecovery("primary", s.onPrimaryFire)
	}
}

// armRecovery re-arms a fire callback after a transient store error so a
// single failed read cannot silence the schedule for good.
func (s *Scheduler) armRecovery(kind string, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	t := s.afterFunc(errorRetryDelay, fire)
	switch kind {
	case "retry":
		if s.retryTimer != nil {
			s.retryTimer.Stop()
		}
		s.retryTimer = t
	default:
		if s.primaryTimer != nil {
			s.primaryTimer.Stop()
		}
		s.primaryTimer = t
	}
	s.logger.Warn("schedule: trigger re-armed after store error",
		"kind", kind, "delay", errorRetryDelay)
}

func (s *Scheduler) emitSuspensionNotice(ctx context.Context) {
	cfg, err := s.store.Settings(ctx)
	if err != nil || !cfg.NotificationsEnabled {
		return
	}
	n := notify.Notice{
		Title: "Automatic status checks suspended",
		Body:  "Three checks in a row failed. Checks resume automatically after 24 hours, or run one manually.",
		At:    s.now(),
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("schedule: suspension notice failed", "error", err)
	}
}

// recoverFire keeps a panic in a timer callback from killing the process;
// the periodic schedule must survive anything an attempt throws.
func (s *Scheduler) recoverFire(kind string) {
	if r := recover(); r != nil {
		s.logger.Error("schedule: panic in trigger", "kind", kind, "panic", r)
	}
}
