// Package session manages the Chrome instance portalwatch drives and the
// ephemeral, isolated browsing surfaces spawned from it. One Chrome process
// is held for the daemon's lifetime; each refresh attempt gets its own
// incognito surface that is always torn down when the attempt ends.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// ErrSpawnFailed indicates the environment could not provide a browsing
// surface at all. The attempt aborts immediately when this is returned.
type ErrSpawnFailed struct {
	Err error
}

func (e *ErrSpawnFailed) Error() string {
	return fmt.Sprintf("session: spawn failed: %v", e.Err)
}

func (e *ErrSpawnFailed) Unwrap() error { return e.Err }

// Config configures the session Manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// NavigateTimeout bounds a single Navigate call. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager holds the Chrome connection and spawns ephemeral surfaces.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a Manager. Call Start to launch or connect Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance).
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("session: manager is closed")
	}
	if m.browser != nil {
		return nil
	}

	log := m.cfg.Logger
	var wsURL string

	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("session: connecting to remote browser", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("session: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("session: launched local chrome")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("session: ignore cert errors failed", "error", err)
	}

	m.browser = b
	return nil
}

// Spawn creates a fresh isolated surface: a stealth page inside its own
// incognito browser context, so each attempt starts with no cookies or
// storage. If the incognito context cannot be created, it falls back to a
// less-isolated stealth page in the shared context rather than failing the
// attempt outright.
func (m *Manager) Spawn(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	b := m.browser
	closed := m.closed
	m.mu.Unlock()

	if closed || b == nil {
		return nil, &ErrSpawnFailed{Err: fmt.Errorf("no active browser")}
	}

	log := m.cfg.Logger

	inc, err := b.Incognito()
	if err != nil {
		log.Warn("session: incognito context failed, falling back to shared context", "error", err)
		inc = nil
	}

	target := b
	if inc != nil {
		target = inc
	}

	page, err := stealth.Page(target)
	if err != nil {
		return nil, &ErrSpawnFailed{Err: err}
	}

	return &Session{
		page:            page,
		context:         inc,
		isolated:        inc != nil,
		navigateTimeout: m.cfg.NavigateTimeout,
		logger:          log,
	}, nil
}

// Close shuts down Chrome.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return nil
}
