// Package control is the local HTTP surface of portalwatch: manual refresh,
// settings, credential management, and a status view, plus the mount point
// for the extraction agent's inbound webhook. It is meant to be bound to
// localhost; the bearer token is a second line, not the perimeter.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/portalwatch/refresh"
	"github.com/hazyhaar/portalwatch/store"
	"github.com/hazyhaar/portalwatch/vault"
)

// Refresher is the scheduling surface the API drives. *schedule.Scheduler
// satisfies it.
type Refresher interface {
	RunNow(ctx context.Context) refresh.Result
	Reschedule(ctx context.Context) error
	Pending() (primary, retry bool)
}

// CredentialStore is the vault surface the API drives.
type CredentialStore interface {
	Put(ctx context.Context, creds vault.Credentials) error
	Delete(ctx context.Context) error
	HasCredentials(ctx context.Context) (bool, error)
}

// Config wires the control server.
type Config struct {
	Addr  string
	Token string
	// Agent is mounted under /api/agent, outside the token check: the
	// extraction agent authenticates with its own HMAC signature.
	Agent  http.Handler
	Logger *slog.Logger
}

// Server is the portalwatch control API.
type Server struct {
	store  *store.Store
	sched  Refresher
	creds  CredentialStore
	logger *slog.Logger
	http   *http.Server
	router chi.Router
}

// New creates the control server.
func New(st *store.Store, sched Refresher, creds CredentialStore, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		store:  st,
		sched:  sched,
		creds:  creds,
		logger: cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(maxBody(1 << 20))
	r.Use(requestLog(cfg.Logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.Agent != nil {
		r.Mount("/api/agent", cfg.Agent)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireToken(cfg.Token))

		r.Post("/api/refresh", s.handleRefresh)
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/settings", s.handleGetSettings)
		r.Put("/api/settings", s.handlePutSettings)
		r.Put("/api/credentials", s.handlePutCredentials)
		r.Delete("/api/credentials", s.handleDeleteCredentials)
	})

	s.router = r
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute, // manual refresh runs inline
	}
	return s
}

// Handler exposes the router (for tests).
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("control: listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleRefresh runs a manual refresh inline and returns its result. A 409
// result code of "busy" means another attempt was already running.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res := s.sched.RunNow(r.Context())
	status := http.StatusOK
	if res.Code == refresh.CodeBusy {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

type statusResponse struct {
	LastAttempt         *time.Time      `json:"last_attempt,omitempty"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	Suspended           bool            `json:"suspended"`
	PrimaryScheduled    bool            `json:"primary_scheduled"`
	RetryScheduled      bool            `json:"retry_scheduled"`
	HasCredentials      bool            `json:"has_credentials"`
	StatusUpdatedAt     *time.Time      `json:"status_updated_at,omitempty"`
	DetailUpdatedAt     *time.Time      `json:"detail_updated_at,omitempty"`
	MaintenanceAt       *time.Time      `json:"maintenance_at,omitempty"`
	RecentAttempts      []attemptRecord `json:"recent_attempts"`
}

type attemptRecord struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	Code       string    `json:"code"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	meta, err := s.store.Meta(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	baselines, err := s.store.Baselines(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	has, err := s.creds.HasCredentials(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	attempts, err := s.store.RecentAttempts(ctx, 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	primary, retry := s.sched.Pending()
	resp := statusResponse{
		LastAttempt:         timePtr(meta.LastAttempt),
		ConsecutiveFailures: meta.ConsecutiveFailures,
		Suspended:           meta.DisabledByFailure,
		PrimaryScheduled:    primary,
		RetryScheduled:      retry,
		HasCredentials:      has,
		StatusUpdatedAt:     timePtr(baselines.StatusUpdatedAt),
		DetailUpdatedAt:     timePtr(baselines.DetailUpdatedAt),
		MaintenanceAt:       timePtr(baselines.MaintenanceAt),
		RecentAttempts:      []attemptRecord{},
	}
	for _, a := range attempts {
		resp.RecentAttempts = append(resp.RecentAttempts, attemptRecord{
			ID: a.ID, Trigger: a.Trigger, Code: a.Code, Success: a.Success,
			Error: a.Error, StartedAt: a.StartedAt, FinishedAt: a.FinishedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type settingsPayload struct {
	AutoCheckEnabled     bool `json:"auto_check_enabled"`
	AutoCheckIntervalMin int  `json:"auto_check_interval_min"`
	NotificationsEnabled bool `json:"notifications_enabled"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.Settings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsPayload{
		AutoCheckEnabled:     cfg.AutoCheckEnabled,
		AutoCheckIntervalMin: int(cfg.AutoCheckInterval / time.Minute),
		NotificationsEnabled: cfg.NotificationsEnabled,
	})
}

// handlePutSettings persists the settings and reschedules synchronously, so
// the caller observes the new timer state as soon as the request returns.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.AutoCheckIntervalMin <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "interval must be positive"})
		return
	}

	cfg := store.Settings{
		AutoCheckEnabled:     req.AutoCheckEnabled,
		AutoCheckInterval:    time.Duration(req.AutoCheckIntervalMin) * time.Minute,
		NotificationsEnabled: req.NotificationsEnabled,
	}
	if err := s.store.SaveSettings(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.sched.Reschedule(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	var creds vault.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.creds.Put(r.Context(), creds); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sched.Reschedule(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	if err := s.creds.Delete(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.sched.Reschedule(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
