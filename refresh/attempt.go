package refresh

import (
	"context"
	"time"

	"github.com/hazyhaar/portalwatch/probe"
	"github.com/hazyhaar/portalwatch/store"
	"github.com/hazyhaar/portalwatch/vault"
)

// phase tracks where the attempt currently is. Transitions happen only
// inside tick, one direction, never back.
type phase int

const (
	phaseNavigating phase = iota
	phaseObserving
	phaseAwaitingData
)

// cause is the internal reason tick decided to stop the loop. The public
// Result is derived from the cause plus the attempt's accumulated state.
type cause int

const (
	causeData cause = iota
	causePrematureClose
	causeMaintenance
	causeNeedsLogin
	causeSignalFailure
	causeTimeout
	causeUnknown
)

// attempt is the transient state of one in-flight refresh. Owned exclusively
// by the single Run invocation that created it; discarded on termination.
type attempt struct {
	id       string
	session  Session
	start    time.Time
	deadline time.Time
	phase    phase

	hasCreds bool
	creds    *vault.Credentials // fetched lazily, at most once

	triedPortal bool
	triedIdP    bool
	needsLogin  bool

	lastURL string

	baseline       store.Baselines
	statusReceived bool
	detailReceived bool
	statusAt       time.Time // when the fresh status snapshot was first seen

	maintenance  bool
	failSignalAt time.Time // first observation of a non-maintenance failure signal
}

func (a *attempt) loginAttempted() bool {
	return a.triedPortal || a.triedIdP
}

// loginCompleted reports whether a submitted login landed on the home page.
// Reaching phaseAwaitingData is the only way that happens.
func (a *attempt) loginCompleted() bool {
	return a.phase == phaseAwaitingData
}

// signalFresh reports whether a completion signal belongs to this attempt.
// Signals carrying an attempt ID are matched by generation; signals without
// one (the agent's unprompted page-load runs) fall back to a strictly-after
// timestamp comparison, so a tie with the attempt start is stale.
func (a *attempt) signalFresh(sig store.Signal) bool {
	if sig.AttemptID != "" {
		return sig.AttemptID == a.id
	}
	return sig.At.After(a.start)
}

// tick runs one observation pass. It returns done=false to keep polling, or
// done=true with the terminal Result.
func (o *Orchestrator) tick(ctx context.Context, a *attempt) (bool, Result) {
	now := o.now()
	elapsed := now.Sub(a.start)
	t := o.cfg.Timing

	// 1. The surface must still exist. Closed externally means the attempt
	// cannot conclude anything; fail it now.
	if !a.session.Alive(ctx) {
		return true, o.finish(ctx, a, causePrematureClose, "session closed prematurely")
	}

	// 2. Reclassify on URL change.
	url, err := a.session.URL(ctx)
	if err != nil {
		return true, o.finish(ctx, a, causePrematureClose, "session closed prematurely")
	}
	if url != a.lastURL {
		a.lastURL = url
		switch o.cfg.Probe.Classify(url) {
		case probe.PageLanding:
			// Known quirk: a successful login sometimes redirects to the
			// generic landing page instead of the requested target.
			if a.loginAttempted() && !a.loginCompleted() {
				if err := a.session.Navigate(ctx, o.cfg.HomeURL); err != nil {
					o.logger.Warn("refresh: re-navigation failed", "error", err)
				}
				return false, Result{}
			}
		case probe.PageHome:
			if a.loginAttempted() && !a.loginCompleted() {
				a.phase = phaseAwaitingData
				if err := o.sleep(ctx, t.RenderSettle); err != nil {
					return true, o.finish(ctx, a, causeUnknown, "context cancelled")
				}
				if err := o.cfg.Commander.TriggerFetch(ctx, a.session, a.id); err != nil {
					o.logger.Warn("refresh: trigger fetch failed", "error", err)
				}
				return false, Result{}
			}
		}
	}

	// 3. Load-state-driven actions, once past the initial grace period.
	if elapsed > t.InitialGrace {
		loaded, err := a.session.LoadComplete(ctx)
		if err != nil {
			loaded = false // transient; keep polling
		}
		if loaded {
			switch page := o.cfg.Probe.Classify(a.lastURL); {
			case page == probe.PageLogin && !a.triedPortal && a.hasCreds:
				a.triedPortal = true
				if done, res := o.dispatchLogin(ctx, a, t.PortalSubmitWait); done {
					return true, res
				}
				return false, Result{}

			case page == probe.PageIdentityProvider && !a.triedIdP && a.hasCreds:
				a.triedIdP = true
				if done, res := o.dispatchLogin(ctx, a, t.IdPSubmitWait); done {
					return true, res
				}
				return false, Result{}

			case page == probe.PageLogin && !a.hasCreds && elapsed > t.NoCredsCutoff:
				a.needsLogin = true
				return true, o.finish(ctx, a, causeNeedsLogin, "no credentials stored")
			}
		}
	}

	// 4. Inspect the agent's completion signal, ignoring stale ones.
	sig, ok, err := o.cfg.Store.LatestSignal(ctx)
	if err == nil && ok && a.signalFresh(sig) && !sig.Success {
		if sig.Reason == store.ReasonMaintenance {
			a.maintenance = true
			return true, o.finish(ctx, a, causeMaintenance, "portal maintenance reported")
		}
		// Other failure reasons get a short grace window: the snapshot
		// writes may still be in flight.
		if a.failSignalAt.IsZero() {
			a.failSignalAt = now
		} else if now.Sub(a.failSignalAt) > t.SignalFailureGrace {
			return true, o.finish(ctx, a, causeSignalFailure, "agent reported "+sig.Reason)
		}
	}

	b, err := o.cfg.Store.Baselines(ctx)
	if err != nil {
		o.logger.Warn("refresh: baseline read failed", "error", err)
		b = a.baseline
	}

	// 5. Maintenance flagged by the agent's durable write during this attempt.
	if b.MaintenanceAt.After(a.start) {
		a.maintenance = true
		return true, o.finish(ctx, a, causeMaintenance, "portal maintenance detected")
	}

	// 6. Snapshot arrival. Status is the primary signal; details are
	// best-effort with a bounded wait.
	if !a.statusReceived && b.StatusUpdatedAt.After(a.baseline.StatusUpdatedAt) {
		a.statusReceived = true
		a.statusAt = now
	}
	if a.statusReceived {
		if b.DetailUpdatedAt.After(a.baseline.DetailUpdatedAt) {
			a.detailReceived = true
			return true, o.finish(ctx, a, causeData, "")
		}
		if now.Sub(a.statusAt) > t.DetailWait {
			return true, o.finish(ctx, a, causeData, "")
		}
	}

	// 7. Deadline.
	if now.After(a.deadline) {
		return true, o.finish(ctx, a, causeTimeout, "deadline exceeded")
	}

	return false, Result{}
}

// dispatchLogin settles the login page, submits stored credentials through
// the agent, then waits out the expected redirect before polling resumes.
func (o *Orchestrator) dispatchLogin(ctx context.Context, a *attempt, submitWait time.Duration) (bool, Result) {
	t := o.cfg.Timing

	if a.creds == nil {
		creds, err := o.cfg.Credentials.Get(ctx)
		if err != nil {
			return true, o.finish(ctx, a, causeUnknown, "read credentials: "+err.Error())
		}
		a.creds = &creds
	}

	if err := o.sleep(ctx, t.LoginSettle); err != nil {
		return true, o.finish(ctx, a, causeUnknown, "context cancelled")
	}
	if err := o.cfg.Commander.SubmitCredentials(ctx, a.session, a.id, *a.creds); err != nil {
		o.logger.Warn("refresh: credential dispatch failed", "error", err)
	}
	if err := o.sleep(ctx, submitWait); err != nil {
		return true, o.finish(ctx, a, causeUnknown, "context cancelled")
	}
	return false, Result{}
}

// finish derives the attempt's public Result. Priority order, first match
// wins: data received, maintenance, needs-login, login attempted but never
// completed, login completed with no data, then the terminating cause.
func (o *Orchestrator) finish(ctx context.Context, a *attempt, c cause, errText string) Result {
	// Data may have landed between the last comparison and termination;
	// take one final look before deciding.
	if b, err := o.cfg.Store.Baselines(ctx); err == nil {
		if b.StatusUpdatedAt.After(a.baseline.StatusUpdatedAt) {
			a.statusReceived = true
		}
		if b.DetailUpdatedAt.After(a.baseline.DetailUpdatedAt) {
			a.detailReceived = true
		}
	}

	switch {
	case a.statusReceived || a.detailReceived:
		return newResult(CodeOK, "")
	case c == causeMaintenance || a.maintenance:
		return newResult(CodeMaintenance, errText)
	case a.needsLogin:
		return newResult(CodeLoginRequired, errText)
	case a.loginAttempted() && !a.loginCompleted():
		return newResult(CodeLoginFailed, "login attempted but never completed")
	case a.loginCompleted():
		return newResult(CodePostLoginData, "login completed but no data arrived")
	case c == causePrematureClose:
		return newResult(CodePrematureClose, errText)
	case c == causeSignalFailure, c == causeUnknown:
		return newResult(CodeUnknown, errText)
	default:
		return newResult(CodeTimeout, "deadline exceeded")
	}
}
