package agent

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/portalwatch/dbopen"
	"github.com/hazyhaar/portalwatch/store"
)

func setupReceiver(t *testing.T, secret string) (*store.Store, http.Handler) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	s, err := store.Wrap(db)
	if err != nil {
		t.Fatalf("wrap store: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rc := NewReceiver(s, secret, nil, WithReceiverClock(func() time.Time { return now }))
	return s, rc.Routes()
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func post(h http.Handler, path, signature string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Signature-256", signature)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestReceiver_SignalPersisted(t *testing.T) {
	s, h := setupReceiver(t, "")
	body := []byte(`{"attempt_id":"att_1","success":true}`)

	if w := post(h, "/signal", "", body); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	sig, ok, err := s.LatestSignal(context.Background())
	if err != nil || !ok {
		t.Fatalf("latest signal: ok=%v err=%v", ok, err)
	}
	if sig.AttemptID != "att_1" || !sig.Success {
		t.Fatalf("signal = %+v, want att_1 success", sig)
	}
}

func TestReceiver_MaintenanceSignalTouchesFlag(t *testing.T) {
	s, h := setupReceiver(t, "")
	body := []byte(`{"success":false,"reason":"maintenance"}`)

	if w := post(h, "/signal", "", body); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	b, err := s.Baselines(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if b.MaintenanceAt.IsZero() {
		t.Fatal("maintenance flag not touched")
	}
}

func TestReceiver_SnapshotTouches(t *testing.T) {
	s, h := setupReceiver(t, "")

	if w := post(h, "/snapshot/status", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("status touch = %d, want 204", w.Code)
	}
	if w := post(h, "/snapshot/detail", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("detail touch = %d, want 204", w.Code)
	}

	b, err := s.Baselines(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if b.StatusUpdatedAt.IsZero() || b.DetailUpdatedAt.IsZero() {
		t.Fatalf("baselines = %+v, want both snapshots touched", b)
	}
}

func TestReceiver_RejectsBadSignature(t *testing.T) {
	s, h := setupReceiver(t, "topsecret")
	body := []byte(`{"attempt_id":"att_1","success":true}`)

	if w := post(h, "/signal", "", body); w.Code != http.StatusForbidden {
		t.Fatalf("unsigned request: status = %d, want 403", w.Code)
	}
	if w := post(h, "/signal", sign("wrong", body), body); w.Code != http.StatusForbidden {
		t.Fatalf("wrong key: status = %d, want 403", w.Code)
	}

	if _, ok, _ := s.LatestSignal(context.Background()); ok {
		t.Fatal("rejected request still persisted a signal")
	}

	if w := post(h, "/signal", sign("topsecret", body), body); w.Code != http.StatusNoContent {
		t.Fatalf("valid signature: status = %d, want 204", w.Code)
	}
}

func TestReceiver_RejectsMalformedPayload(t *testing.T) {
	_, h := setupReceiver(t, "")
	if w := post(h, "/signal", "", []byte(`{not json`)); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
