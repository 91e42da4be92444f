// Package refresh drives one end-to-end status refresh attempt: spawn an
// ephemeral browsing surface, navigate to the portal, authenticate if the
// portal asks for it, wait for the extraction agent's data to land, and
// always tear the surface down.
//
// The orchestrator reconciles loosely-synchronised sources of truth (URL
// changes, page load state, the agent's completion signal, persisted
// snapshot timestamps, a wall-clock deadline) in a single cooperative
// polling loop. At most one attempt runs at any time, enforced by a
// process-wide guard; concurrent triggers are rejected, never queued.
//
// Run never panics or errors past its boundary: every exit path resolves to
// a structured Result, and the surface is closed on all of them.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/portalwatch/idgen"
	"github.com/hazyhaar/portalwatch/probe"
	"github.com/hazyhaar/portalwatch/store"
	"github.com/hazyhaar/portalwatch/vault"
)

// Session is the ephemeral browsing surface an attempt drives. The session
// package provides the production implementation; tests use fakes.
type Session interface {
	Alive(ctx context.Context) bool
	URL(ctx context.Context) (string, error)
	LoadComplete(ctx context.Context) (bool, error)
	Navigate(ctx context.Context, url string) error
	Eval(ctx context.Context, js string, args ...any) error
	Close() error
}

// SpawnFunc provides a fresh isolated surface for one attempt.
// A *session.ErrSpawnFailed error aborts the attempt immediately.
type SpawnFunc func(ctx context.Context) (Session, error)

// Commander is the outbound half of the extraction-agent plumbing:
// fire-and-forget commands posted into the current page. The attempt ID is
// carried so the agent can echo it back in its completion signal, which is
// how the orchestrator tells this attempt's signals from a stale one.
type Commander interface {
	TriggerFetch(ctx context.Context, s Session, attemptID string) error
	SubmitCredentials(ctx context.Context, s Session, attemptID string, creds vault.Credentials) error
}

// CredentialSource abstracts the vault for testability.
type CredentialSource interface {
	HasCredentials(ctx context.Context) (bool, error)
	Get(ctx context.Context) (vault.Credentials, error)
}

// Timing holds the fixed waits of the observation loop. The defaults
// reproduce the portal's observed worst-case latencies; tests inject an
// instant sleeper instead of shrinking them.
type Timing struct {
	// DeadlineNoCreds bounds an attempt without stored credentials.
	DeadlineNoCreds time.Duration
	// DeadlineCreds bounds an attempt with stored credentials. Longer:
	// a two-hop login flow plus the portal's own latency.
	DeadlineCreds time.Duration
	// Poll is the observation loop cadence.
	Poll time.Duration
	// InitialGrace must elapse before load-state-driven actions fire.
	InitialGrace time.Duration
	// RenderSettle is the wait after reaching the authenticated page
	// before triggering the data fetch, for client-side rendering.
	RenderSettle time.Duration
	// LoginSettle is the wait for the login page's framework to settle
	// before credentials are dispatched.
	LoginSettle time.Duration
	// PortalSubmitWait is the post-submit wait on the portal's own login.
	PortalSubmitWait time.Duration
	// IdPSubmitWait is the post-submit wait on the identity provider.
	IdPSubmitWait time.Duration
	// NoCredsCutoff is how long to sit on a login page without stored
	// credentials before giving up with a needs-login outcome.
	NoCredsCutoff time.Duration
	// SignalFailureGrace is the extra window granted after a non-maintenance
	// failure signal; data may still be in flight.
	SignalFailureGrace time.Duration
	// DetailWait is how long to wait for the detail snapshot once the
	// status snapshot has arrived before accepting partial data.
	DetailWait time.Duration
}

func (t *Timing) defaults() {
	if t.DeadlineNoCreds <= 0 {
		t.DeadlineNoCreds = 45 * time.Second
	}
	if t.DeadlineCreds <= 0 {
		t.DeadlineCreds = 90 * time.Second
	}
	if t.Poll <= 0 {
		t.Poll = 500 * time.Millisecond
	}
	if t.InitialGrace <= 0 {
		t.InitialGrace = 1500 * time.Millisecond
	}
	if t.RenderSettle <= 0 {
		t.RenderSettle = time.Second
	}
	if t.LoginSettle <= 0 {
		t.LoginSettle = 2 * time.Second
	}
	if t.PortalSubmitWait <= 0 {
		t.PortalSubmitWait = 5 * time.Second
	}
	if t.IdPSubmitWait <= 0 {
		t.IdPSubmitWait = 8 * time.Second
	}
	if t.NoCredsCutoff <= 0 {
		t.NoCredsCutoff = 10 * time.Second
	}
	if t.SignalFailureGrace <= 0 {
		t.SignalFailureGrace = 3 * time.Second
	}
	if t.DetailWait <= 0 {
		t.DetailWait = 8 * time.Second
	}
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Spawn       SpawnFunc
	Commander   Commander
	Store       *store.Store
	Credentials CredentialSource
	Probe       probe.Rules
	// HomeURL is the authenticated target page the attempt navigates to.
	HomeURL string
	Timing  Timing
	Logger  *slog.Logger
}

// Orchestrator runs refresh attempts. Create one and share it between the
// scheduler and the manual trigger so they contend on the same guard.
type Orchestrator struct {
	cfg      Config
	logger   *slog.Logger
	inFlight atomic.Bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID idgen.Generator
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets a custom clock (for testing).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleeper sets a custom timed-suspension function (for testing).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithIDGenerator sets the attempt ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// New creates an Orchestrator.
func New(cfg Config, opts ...Option) *Orchestrator {
	cfg.Timing.defaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:    cfg,
		logger: cfg.Logger,
		now:    time.Now,
		sleep:  sleepCtx,
		newID:  idgen.Prefixed("att_", idgen.UUIDv7()),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InFlight reports whether an attempt is currently running.
func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}

// Run executes one refresh attempt. If another attempt is in flight it
// returns a Busy rejection immediately, with no side effects.
func (o *Orchestrator) Run(ctx context.Context) (res Result) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return newResult(CodeBusy, "refresh already running")
	}
	defer o.inFlight.Store(false)

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("refresh: panic recovered", "panic", r)
			res = newResult(CodeUnknown, fmt.Sprintf("internal fault: %v", r))
		}
	}()

	res = o.runAttempt(ctx)
	return res
}

func (o *Orchestrator) runAttempt(ctx context.Context) Result {
	start := o.now()
	attemptID := o.newID()
	log := o.logger.With("attempt", attemptID)

	hasCreds, err := o.cfg.Credentials.HasCredentials(ctx)
	if err != nil {
		return newResult(CodeUnknown, fmt.Sprintf("credential check: %v", err))
	}

	baseline, err := o.cfg.Store.Baselines(ctx)
	if err != nil {
		return newResult(CodeUnknown, fmt.Sprintf("read baselines: %v", err))
	}

	deadline := o.cfg.Timing.DeadlineNoCreds
	if hasCreds {
		deadline = o.cfg.Timing.DeadlineCreds
	}

	s, err := o.cfg.Spawn(ctx)
	if err != nil {
		log.Warn("refresh: spawn failed", "error", err)
		return newResult(CodeSpawnFailed, err.Error())
	}
	defer s.Close()

	a := &attempt{
		id:       attemptID,
		session:  s,
		start:    start,
		deadline: start.Add(deadline),
		hasCreds: hasCreds,
		baseline: baseline,
		phase:    phaseNavigating,
	}

	log.Info("refresh: attempt started",
		"deadline", deadline, "has_credentials", hasCreds)

	if err := s.Navigate(ctx, o.cfg.HomeURL); err != nil {
		log.Warn("refresh: initial navigation failed", "error", err)
		return o.finish(ctx, a, causeUnknown, fmt.Sprintf("navigate: %v", err))
	}
	a.phase = phaseObserving

	for {
		done, res := o.tick(ctx, a)
		if done {
			log.Info("refresh: attempt finished",
				"code", res.CodeName, "success", res.Success,
				"elapsed", o.now().Sub(a.start))
			return res
		}
		if err := o.sleep(ctx, o.cfg.Timing.Poll); err != nil {
			return o.finish(ctx, a, causeUnknown, "context cancelled")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
