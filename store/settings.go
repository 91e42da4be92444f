package store

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Settings is the user-facing runtime configuration. Interval and jitter
// are stored in whole minutes; the jitter is a fixed per-installation value
// in [0,60) minutes used to desynchronize schedules across installations.
type Settings struct {
	AutoCheckEnabled     bool
	AutoCheckInterval    time.Duration
	AutoCheckJitter      time.Duration
	NotificationsEnabled bool
}

// Settings reads the settings singleton.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	var enabled, intervalMin, jitterMin, notif int
	err := s.DB.QueryRowContext(ctx,
		`SELECT auto_check_enabled, auto_check_interval_min,
		        auto_check_jitter_min, notifications_enabled
		 FROM settings WHERE id = 1`,
	).Scan(&enabled, &intervalMin, &jitterMin, &notif)
	if err != nil {
		return Settings{}, fmt.Errorf("store: read settings: %w", err)
	}
	return Settings{
		AutoCheckEnabled:     enabled != 0,
		AutoCheckInterval:    time.Duration(intervalMin) * time.Minute,
		AutoCheckJitter:      time.Duration(jitterMin) * time.Minute,
		NotificationsEnabled: notif != 0,
	}, nil
}

// SaveSettings overwrites the mutable settings fields. The jitter column is
// deliberately left untouched: it is fixed for the installation's lifetime.
func (s *Store) SaveSettings(ctx context.Context, cfg Settings) error {
	intervalMin := int(cfg.AutoCheckInterval / time.Minute)
	if intervalMin <= 0 {
		intervalMin = 180
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE settings
		 SET auto_check_enabled = ?, auto_check_interval_min = ?,
		     notifications_enabled = ?
		 WHERE id = 1`,
		boolInt(cfg.AutoCheckEnabled), intervalMin, boolInt(cfg.NotificationsEnabled))
	if err != nil {
		return fmt.Errorf("store: save settings: %w", err)
	}
	return nil
}

// seedSettings inserts the settings row on first open, generating the
// per-installation jitter. INSERT OR IGNORE keeps reopens idempotent.
func (s *Store) seedSettings() error {
	jitterMin := rand.Intn(60)
	_, err := s.DB.Exec(
		`INSERT OR IGNORE INTO settings (id, auto_check_jitter_min) VALUES (1, ?)`,
		jitterMin)
	if err != nil {
		return fmt.Errorf("store: seed settings: %w", err)
	}
	return nil
}
