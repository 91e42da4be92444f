// Package agent is the plumbing between portalwatch and the extraction
// agent, the external component that, once on the authenticated page,
// fetches and decrypts the status payload. Outbound commands are posted
// into the page as window messages (fire-and-forget, no acknowledgment);
// inbound completion signals and snapshot notifications arrive over a
// local HMAC-verified webhook and are persisted through the store.
//
// portalwatch never parses or decrypts portal payloads itself; it only
// observes the timestamps and signals the agent leaves behind.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/portalwatch/refresh"
	"github.com/hazyhaar/portalwatch/vault"
)

// postMessageJS delivers a command object to the page. The extraction agent
// listens for messages with source "portalwatch".
const postMessageJS = `(cmd) => window.postMessage(cmd, "*")`

// Commander posts commands into the current page. Implements
// refresh.Commander.
type Commander struct {
	logger *slog.Logger
}

// NewCommander creates a Commander.
func NewCommander(logger *slog.Logger) *Commander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commander{logger: logger}
}

// TriggerFetch asks the agent to re-run extraction on the current page.
func (c *Commander) TriggerFetch(ctx context.Context, s refresh.Session, attemptID string) error {
	cmd := map[string]any{
		"source":     "portalwatch",
		"type":       "trigger_fetch",
		"attempt_id": attemptID,
	}
	if err := s.Eval(ctx, postMessageJS, cmd); err != nil {
		return fmt.Errorf("agent: trigger fetch: %w", err)
	}
	c.logger.Debug("agent: trigger fetch posted", "attempt", attemptID)
	return nil
}

// SubmitCredentials asks the agent to attempt a login on the current page.
// The credentials travel only into the page; they are never logged.
func (c *Commander) SubmitCredentials(ctx context.Context, s refresh.Session, attemptID string, creds vault.Credentials) error {
	cmd := map[string]any{
		"source":     "portalwatch",
		"type":       "submit_credentials",
		"attempt_id": attemptID,
		"username":   creds.Username,
		"password":   creds.Password,
	}
	if err := s.Eval(ctx, postMessageJS, cmd); err != nil {
		return fmt.Errorf("agent: submit credentials: %w", err)
	}
	c.logger.Debug("agent: credentials posted", "attempt", attemptID, "username", creds.Username)
	return nil
}
