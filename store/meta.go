package store

import (
	"context"
	"fmt"
	"time"
)

// Meta is the persisted auto-check state. A zero LastAttempt means the
// orchestrator has never been invoked on this installation.
type Meta struct {
	LastAttempt         time.Time
	ConsecutiveFailures int
	DisabledByFailure   bool
}

// Meta reads the auto-check metadata singleton.
func (s *Store) Meta(ctx context.Context) (Meta, error) {
	var lastMs int64
	var failures, disabled int
	err := s.DB.QueryRowContext(ctx,
		`SELECT last_attempt, consecutive_failures, disabled_by_failure
		 FROM autocheck_meta WHERE id = 1`,
	).Scan(&lastMs, &failures, &disabled)
	if err != nil {
		return Meta{}, fmt.Errorf("store: read meta: %w", err)
	}
	return Meta{
		LastAttempt:         fromMillis(lastMs),
		ConsecutiveFailures: failures,
		DisabledByFailure:   disabled != 0,
	}, nil
}

// SaveMeta overwrites the auto-check metadata singleton.
func (s *Store) SaveMeta(ctx context.Context, m Meta) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE autocheck_meta
		 SET last_attempt = ?, consecutive_failures = ?, disabled_by_failure = ?
		 WHERE id = 1`,
		toMillis(m.LastAttempt), m.ConsecutiveFailures, boolInt(m.DisabledByFailure))
	if err != nil {
		return fmt.Errorf("store: save meta: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
