package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Session is one ephemeral browsing surface. It is owned by exactly one
// refresh attempt and must be closed when the attempt terminates, on every
// exit path.
type Session struct {
	page            *rod.Page
	context         *rod.Browser // incognito context; nil in fallback mode
	isolated        bool
	navigateTimeout time.Duration
	logger          *slog.Logger
}

// Isolated reports whether the surface runs in its own incognito context.
func (s *Session) Isolated() bool { return s.isolated }

// Alive reports whether the surface still exists. A surface closed
// externally (user closed the window, Chrome died) reports false.
func (s *Session) Alive(ctx context.Context) bool {
	_, err := s.page.Context(ctx).Info()
	return err == nil
}

// URL returns the surface's current URL.
func (s *Session) URL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("session: read url: %w", err)
	}
	return info.URL, nil
}

// LoadComplete reports whether the current document finished loading.
func (s *Session) LoadComplete(ctx context.Context) (bool, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.readyState === "complete"`)
	if err != nil {
		return false, fmt.Errorf("session: read load state: %w", err)
	}
	return res.Value.Bool(), nil
}

// Navigate directs the surface to url and returns once navigation has been
// issued. It does not wait for load completion; the caller polls
// LoadComplete on its own cadence.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.navigateTimeout)
	defer cancel()

	if err := s.page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("session: navigate %s: %w", url, err)
	}
	return nil
}

// Eval runs a JavaScript function in the surface. Used by the agent
// plumbing to post commands into the page.
func (s *Session) Eval(ctx context.Context, js string, args ...any) error {
	if _, err := s.page.Context(ctx).Eval(js, args...); err != nil {
		return fmt.Errorf("session: eval: %w", err)
	}
	return nil
}

// Close tears the surface down: the page, and its incognito context when
// one was created. Teardown errors are swallowed; the attempt's result is
// already decided by the time Close runs.
func (s *Session) Close() error {
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			s.logger.Debug("session: page close", "error", err)
		}
	}
	if s.context != nil && s.context.BrowserContextID != "" {
		err := proto.TargetDisposeBrowserContext{
			BrowserContextID: s.context.BrowserContextID,
		}.Call(s.context)
		if err != nil {
			s.logger.Debug("session: dispose context", "error", err)
		}
	}
	return nil
}
