package store_test

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/portalwatch/dbopen"
	"github.com/hazyhaar/portalwatch/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	s, err := store.Wrap(db)
	if err != nil {
		t.Fatalf("wrap store: %v", err)
	}
	return s
}

func TestMeta_RoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	m, err := s.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !m.LastAttempt.IsZero() || m.ConsecutiveFailures != 0 || m.DisabledByFailure {
		t.Fatalf("fresh meta not zero: %+v", m)
	}

	now := time.Now().Truncate(time.Millisecond)
	m = store.Meta{LastAttempt: now, ConsecutiveFailures: 2, DisabledByFailure: true}
	if err := s.SaveMeta(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := s.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastAttempt.Equal(now) {
		t.Fatalf("last_attempt = %v, want %v", got.LastAttempt, now)
	}
	if got.ConsecutiveFailures != 2 || !got.DisabledByFailure {
		t.Fatalf("meta = %+v", got)
	}
}

func TestSettings_DefaultsAndJitter(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	cfg, err := s.Settings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.AutoCheckEnabled {
		t.Fatal("auto-check disabled by default")
	}
	if cfg.AutoCheckInterval != 180*time.Minute {
		t.Fatalf("interval = %v, want 180m", cfg.AutoCheckInterval)
	}
	if cfg.AutoCheckJitter < 0 || cfg.AutoCheckJitter >= 60*time.Minute {
		t.Fatalf("jitter = %v, want [0,60m)", cfg.AutoCheckJitter)
	}
}

func TestSettings_JitterSurvivesSave(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	before, err := s.Settings(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Saving settings must not regenerate or zero the jitter.
	before.AutoCheckInterval = 60 * time.Minute
	before.NotificationsEnabled = false
	if err := s.SaveSettings(ctx, before); err != nil {
		t.Fatal(err)
	}

	after, err := s.Settings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after.AutoCheckJitter != before.AutoCheckJitter {
		t.Fatalf("jitter changed: %v -> %v", before.AutoCheckJitter, after.AutoCheckJitter)
	}
	if after.AutoCheckInterval != 60*time.Minute {
		t.Fatalf("interval = %v, want 60m", after.AutoCheckInterval)
	}
	if after.NotificationsEnabled {
		t.Fatal("notifications still enabled")
	}
}

func TestSnapshots_TouchAndBaselines(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	b, err := s.Baselines(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !b.StatusUpdatedAt.IsZero() || !b.DetailUpdatedAt.IsZero() || !b.MaintenanceAt.IsZero() {
		t.Fatalf("fresh baselines not zero: %+v", b)
	}

	now := time.Now().Truncate(time.Millisecond)
	if err := s.TouchStatus(ctx, now); err != nil {
		t.Fatal(err)
	}
	if err := s.TouchDetail(ctx, now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := s.TouchMaintenance(ctx, now.Add(2*time.Second)); err != nil {
		t.Fatal(err)
	}

	b, err = s.Baselines(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !b.StatusUpdatedAt.Equal(now) {
		t.Fatalf("status = %v, want %v", b.StatusUpdatedAt, now)
	}
	if !b.DetailUpdatedAt.Equal(now.Add(time.Second)) {
		t.Fatalf("detail = %v", b.DetailUpdatedAt)
	}
	if !b.MaintenanceAt.Equal(now.Add(2 * time.Second)) {
		t.Fatalf("maintenance = %v", b.MaintenanceAt)
	}
}

func TestSignal_MailboxOverwrites(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, ok, err := s.LatestSignal(ctx); err != nil || ok {
		t.Fatalf("empty mailbox: ok=%v err=%v", ok, err)
	}

	first := store.Signal{AttemptID: "a1", Success: false, Reason: store.ReasonAPIError, At: time.Now()}
	if err := s.PutSignal(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := store.Signal{AttemptID: "a2", Success: true, At: time.Now().Add(time.Second)}
	if err := s.PutSignal(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.LatestSignal(ctx)
	if err != nil || !ok {
		t.Fatalf("read signal: ok=%v err=%v", ok, err)
	}
	if got.AttemptID != "a2" || !got.Success {
		t.Fatalf("mailbox not overwritten: %+v", got)
	}
}

func TestAttempts_AuditLog(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, code := range []string{"timeout", "ok", "maintenance"} {
		a := store.Attempt{
			ID:         string(rune('a' + i)),
			Trigger:    "primary",
			Code:       code,
			Success:    code == "ok",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		}
		if err := s.RecordAttempt(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.RecentAttempts(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Code != "maintenance" || got[1].Code != "ok" {
		t.Fatalf("order wrong: %s, %s", got[0].Code, got[1].Code)
	}
}

func TestRecordCompletion_MaintenanceAlsoTouchesFlag(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	at := time.Now()
	err := s.RecordCompletion(ctx, store.Signal{
		Success: false, Reason: store.ReasonMaintenance, At: at,
	})
	if err != nil {
		t.Fatal(err)
	}

	sig, ok, err := s.LatestSignal(ctx)
	if err != nil || !ok {
		t.Fatalf("read signal: ok=%v err=%v", ok, err)
	}
	if sig.Reason != store.ReasonMaintenance {
		t.Fatalf("reason = %q", sig.Reason)
	}
	b, err := s.Baselines(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if b.MaintenanceAt.IsZero() {
		t.Fatal("maintenance flag not written with the signal")
	}

	// A non-maintenance failure must leave the flag alone.
	s2 := setupStore(t)
	if err := s2.RecordCompletion(ctx, store.Signal{
		Success: false, Reason: store.ReasonAPIError, At: at,
	}); err != nil {
		t.Fatal(err)
	}
	b, err = s2.Baselines(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !b.MaintenanceAt.IsZero() {
		t.Fatal("api_error failure touched the maintenance flag")
	}
}
