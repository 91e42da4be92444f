package agent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/portalwatch/store"
)

const maxBodyBytes = 1 << 20 // 1MB

// Receiver accepts the extraction agent's inbound notifications and
// persists them: completion signals into the single-slot mailbox, snapshot
// arrivals as timestamp touches. When a secret is configured, requests must
// carry an X-Signature-256 HMAC-SHA256 header over the body.
type Receiver struct {
	store  *store.Store
	secret string
	logger *slog.Logger
	now    func() time.Time
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithReceiverClock sets a custom clock (for testing).
func WithReceiverClock(now func() time.Time) ReceiverOption {
	return func(r *Receiver) { r.now = now }
}

// NewReceiver creates a Receiver. An empty secret disables HMAC checks;
// only do that when the listener is bound to localhost.
func NewReceiver(s *store.Store, secret string, logger *slog.Logger, opts ...ReceiverOption) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Receiver{store: s, secret: secret, logger: logger, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Routes returns the agent subrouter. Mount it under /api/agent.
func (rc *Receiver) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/signal", rc.handleSignal)
	r.Post("/snapshot/status", rc.handleStatus)
	r.Post("/snapshot/detail", rc.handleDetail)
	return r
}

// signalRequest is the agent's completion-signal payload.
type signalRequest struct {
	AttemptID string `json:"attempt_id"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason"`
}

func (rc *Receiver) handleSignal(w http.ResponseWriter, r *http.Request) {
	body, ok := rc.readBody(w, r)
	if !ok {
		return
	}

	var req signalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	// A maintenance reason also sets the durable maintenance flag in the
	// same transaction, so the orchestrator catches it even if the mailbox
	// is overwritten first.
	sig := store.Signal{
		AttemptID: req.AttemptID,
		Success:   req.Success,
		Reason:    req.Reason,
		At:        rc.now(),
	}
	if err := rc.store.RecordCompletion(r.Context(), sig); err != nil {
		rc.logger.Error("agent: persist signal failed", "error", err)
		http.Error(w, "persist failed", http.StatusInternalServerError)
		return
	}

	rc.logger.Info("agent: signal received",
		"attempt", req.AttemptID, "success", req.Success, "reason", req.Reason)
	w.WriteHeader(http.StatusNoContent)
}

func (rc *Receiver) handleStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := rc.readBody(w, r); !ok {
		return
	}
	if err := rc.store.TouchStatus(r.Context(), rc.now()); err != nil {
		rc.logger.Error("agent: touch status failed", "error", err)
		http.Error(w, "persist failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rc *Receiver) handleDetail(w http.ResponseWriter, r *http.Request) {
	if _, ok := rc.readBody(w, r); !ok {
		return
	}
	if err := rc.store.TouchDetail(r.Context(), rc.now()); err != nil {
		rc.logger.Error("agent: touch detail failed", "error", err)
		http.Error(w, "persist failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readBody reads and HMAC-verifies the request body. On failure it writes
// the error response and returns ok=false.
func (rc *Receiver) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return nil, false
	}
	if !rc.verifyHMAC(body, r.Header.Get("X-Signature-256")) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return nil, false
	}
	return body, true
}

// verifyHMAC checks the X-Signature-256 header against the body. Returns
// true when verification passes or no secret is configured.
func (rc *Receiver) verifyHMAC(body []byte, signature string) bool {
	if rc.secret == "" {
		return true
	}
	if signature == "" {
		return false
	}
	// Strip optional "sha256=" prefix (GitHub-style).
	const prefix = "sha256="
	if len(signature) > len(prefix) && signature[:len(prefix)] == prefix {
		signature = signature[len(prefix):]
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(rc.secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}
