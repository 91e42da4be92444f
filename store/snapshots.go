package store

import (
	"context"
	"fmt"
	"time"
)

// Baselines holds the snapshot arrival timestamps the orchestrator compares
// against during an attempt. The agent side writes them independently; the
// orchestrator only ever reads.
type Baselines struct {
	StatusUpdatedAt time.Time
	DetailUpdatedAt time.Time
	MaintenanceAt   time.Time
}

// Baselines reads all snapshot timestamps in one query.
func (s *Store) Baselines(ctx context.Context) (Baselines, error) {
	var statusMs, detailMs, maintMs int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT status_updated_at, detail_updated_at, maintenance_at
		 FROM snapshots WHERE id = 1`,
	).Scan(&statusMs, &detailMs, &maintMs)
	if err != nil {
		return Baselines{}, fmt.Errorf("store: read baselines: %w", err)
	}
	return Baselines{
		StatusUpdatedAt: fromMillis(statusMs),
		DetailUpdatedAt: fromMillis(detailMs),
		MaintenanceAt:   fromMillis(maintMs),
	}, nil
}

// TouchStatus records the arrival of a fresh status snapshot.
func (s *Store) TouchStatus(ctx context.Context, at time.Time) error {
	return s.touch(ctx, "status_updated_at", at)
}

// TouchDetail records the arrival of a fresh detail snapshot.
func (s *Store) TouchDetail(ctx context.Context, at time.Time) error {
	return s.touch(ctx, "detail_updated_at", at)
}

// TouchMaintenance records that the agent observed the portal in maintenance.
func (s *Store) TouchMaintenance(ctx context.Context, at time.Time) error {
	return s.touch(ctx, "maintenance_at", at)
}

func (s *Store) touch(ctx context.Context, column string, at time.Time) error {
	// column comes from the three Touch wrappers only, never user input.
	q := fmt.Sprintf(`UPDATE snapshots SET %s = ? WHERE id = 1`, column)
	if _, err := s.DB.ExecContext(ctx, q, toMillis(at)); err != nil {
		return fmt.Errorf("store: touch %s: %w", column, err)
	}
	return nil
}
