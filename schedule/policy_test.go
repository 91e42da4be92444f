package schedule

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/portalwatch/dbopen"
	"github.com/hazyhaar/portalwatch/refresh"
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

func result(code refresh.Code) refresh.Result {
	return refresh.Result{
		Success:  code == refresh.CodeOK,
		Code:     code,
		CodeName: code.String(),
	}
}

func TestRecordOutcome_SuccessResetsFailures(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ms := NewMetaService(s, nil)

	if _, err := ms.RecordOutcome(ctx, result(refresh.CodeTimeout), TriggerPrimary); err != nil {
		t.Fatal(err)
	}
	if _, err := ms.RecordOutcome(ctx, result(refresh.CodeTimeout), TriggerPrimary); err != nil {
		t.Fatal(err)
	}
	meta, err := s.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.ConsecutiveFailures != 2 {
		t.Fatalf("consecutive failures = %d, want 2", meta.ConsecutiveFailures)
	}

	if _, err := ms.RecordOutcome(ctx, result(refresh.CodeOK), TriggerPrimary); err != nil {
		t.Fatal(err)
	}
	meta, err = s.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.ConsecutiveFailures != 0 {
		t.Fatalf("consecutive failures after success = %d, want 0", meta.ConsecutiveFailures)
	}
}

func TestRecordOutcome_ExternalCausesNeverCount(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ms := NewMetaService(s, nil)

	for _, code := range []refresh.Code{
		refresh.CodeMaintenance,
		refresh.CodeLoginRequired,
		refresh.CodeBusy,
	} {
		d, err := ms.RecordOutcome(ctx, result(code), TriggerPrimary)
		if err != nil {
			t.Fatalf("%v: %v", code, err)
		}
		if d.ScheduleRetry || d.Suspended {
			t.Fatalf("%v: decision = %+v, want no-op", code, d)
		}
	}

	meta, err := s.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.ConsecutiveFailures != 0 {
		t.Fatalf("consecutive failures = %d, want 0", meta.ConsecutiveFailures)
	}
}

func TestRecordOutcome_ThirdPrimaryFailureSuspends(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ms := NewMetaService(s, nil)

	for i := 0; i < 2; i++ {
		d, err := ms.RecordOutcome(ctx, result(refresh.CodeTimeout), TriggerPrimary)
		if err != nil {
			t.Fatal(err)
		}
		if !d.ScheduleRetry || d.Suspended {
			t.Fatalf("failure %d: decision = %+v, want retry only", i+1, d)
		}
	}

	d, err := ms.RecordOutcome(ctx, result(refresh.CodeTimeout), TriggerPrimary)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Suspended || d.ScheduleRetry {
		t.Fatalf("third failure: decision = %+v, want suspended", d)
	}

	meta, err := s.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !meta.DisabledByFailure {
		t.Fatal("disabled_by_failure not set after third failure")
	}
}

func TestRecordOutcome_RetryFailureDoesNotEscalate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ms := NewMetaService(s, nil)

	if _, err := ms.RecordOutcome(ctx, result(refresh.CodeTimeout), TriggerPrimary); err != nil {
		t.Fatal(err)
	}
	d, err := ms.RecordOutcome(ctx, result(refresh.CodeTimeout), TriggerRetry)
	if err != nil {
		t.Fatal(err)
	}
	if d.ScheduleRetry || d.Suspended {
		t.Fatalf("retry failure: decision = %+v, want no-op", d)
	}

	meta, err := s.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.ConsecutiveFailures != 1 {
		t.Fatalf("consecutive failures = %d, want 1 (retry must not increment)", meta.ConsecutiveFailures)
	}
}

func TestRecordOutcome_ManualFailureNeverCounts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ms := NewMetaService(s, nil)

	for i := 0; i < 5; i++ {
		d, err := ms.RecordOutcome(ctx, result(refresh.CodeTimeout), TriggerManual)
		if err != nil {
			t.Fatal(err)
		}
		if d.ScheduleRetry || d.Suspended {
			t.Fatalf("manual failure %d: decision = %+v, want no-op", i+1, d)
		}
	}

	meta, err := s.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.ConsecutiveFailures != 0 || meta.DisabledByFailure {
		t.Fatalf("meta = %+v, want untouched by manual failures", meta)
	}
}

func TestClearSuspension(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ms := NewMetaService(s, nil)

	meta, err := s.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	meta.ConsecutiveFailures = 3
	meta.DisabledByFailure = true
	if err := s.SaveMeta(ctx, meta); err != nil {
		t.Fatal(err)
	}

	if err := ms.ClearSuspension(ctx); err != nil {
		t.Fatal(err)
	}
	meta, err = s.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.DisabledByFailure || meta.ConsecutiveFailures != 0 {
		t.Fatalf("meta = %+v, want suspension cleared", meta)
	}
}

func TestComputeNextDelay_NeverAttempted(t *testing.T) {
	s := setupStore(t)
	ms := NewMetaService(s, nil)

	cfg := store.Settings{
		AutoCheckInterval: 180 * time.Minute,
		AutoCheckJitter:   17 * time.Minute,
	}
	got := ms.ComputeNextDelay(store.Meta{}, cfg, time.Now())
	if got != 18*time.Minute {
		t.Fatalf("delay = %v, want jitter+1min = 18m", got)
	}
}

func TestComputeNextDelay_CatchUpAfterDowntime(t *testing.T) {
	s := setupStore(t)
	ms := NewMetaService(s, nil, WithMetaRand(func(n int) int { return n - 1 }))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	meta := store.Meta{LastAttempt: now.Add(-10 * time.Hour)}
	cfg := store.Settings{AutoCheckInterval: 180 * time.Minute}

	got := ms.ComputeNextDelay(meta, cfg, now)
	if got != 3*time.Minute {
		t.Fatalf("delay = %v, want 3m at the top of the catch-up range", got)
	}

	ms = NewMetaService(s, nil, WithMetaRand(func(n int) int { return 0 }))
	got = ms.ComputeNextDelay(meta, cfg, now)
	if got != time.Minute {
		t.Fatalf("delay = %v, want 1m at the bottom of the catch-up range", got)
	}
}

func TestComputeNextDelay_IntervalRemainder(t *testing.T) {
	s := setupStore(t)
	ms := NewMetaService(s, nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	meta := store.Meta{LastAttempt: now.Add(-70 * time.Minute)}
	cfg := store.Settings{AutoCheckInterval: 180 * time.Minute}

	got := ms.ComputeNextDelay(meta, cfg, now)
	if got != 110*time.Minute {
		t.Fatalf("delay = %v, want interval remainder 110m", got)
	}
}
