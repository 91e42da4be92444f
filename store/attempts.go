package store

import (
	"context"
	"fmt"
	"time"
)

// Attempt is one finished refresh attempt in the audit log.
type Attempt struct {
	ID         string
	Trigger    string // "primary", "retry", "manual"
	Code       string
	Success    bool
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// RecordAttempt appends an attempt record.
func (s *Store) RecordAttempt(ctx context.Context, a Attempt) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO attempts (id, trigger_by, code, success, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Trigger, a.Code, boolInt(a.Success), a.Error,
		toMillis(a.StartedAt), toMillis(a.FinishedAt))
	if err != nil {
		return fmt.Errorf("store: record attempt: %w", err)
	}
	return nil
}

// RecentAttempts returns the most recent attempts, newest first.
func (s *Store) RecentAttempts(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, trigger_by, code, success, error, started_at, finished_at
		 FROM attempts ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var success int
		var startMs, finishMs int64
		if err := rows.Scan(&a.ID, &a.Trigger, &a.Code, &success, &a.Error, &startMs, &finishMs); err != nil {
			return nil, fmt.Errorf("store: scan attempt: %w", err)
		}
		a.Success = success != 0
		a.StartedAt = fromMillis(startMs)
		a.FinishedAt = fromMillis(finishMs)
		out = append(out, a)
	}
	return out, rows.Err()
}
