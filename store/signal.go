package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/portalwatch/dbopen"
)

// Signal reasons the extraction agent is known to report. Reason is
// free-form; these are the values the orchestrator reacts to.
const (
	ReasonMaintenance = "maintenance"
	ReasonNoTargetTab = "no_target_tab"
	ReasonAPIError    = "api_error"
)

// Signal is the completion signal emitted by the extraction agent. Each new
// emission overwrites the previous one; the orchestrator decides staleness
// by attempt ID (generation), falling back to a strictly-after timestamp
// comparison for signals without one.
type Signal struct {
	AttemptID string
	Success   bool
	Reason    string
	At        time.Time
}

// PutSignal overwrites the completion-signal mailbox.
func (s *Store) PutSignal(ctx context.Context, sig Signal) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE completion_signal
		 SET attempt_id = ?, success = ?, reason = ?, ts = ?
		 WHERE id = 1`,
		sig.AttemptID, boolInt(sig.Success), sig.Reason, toMillis(sig.At))
	if err != nil {
		return fmt.Errorf("store: put signal: %w", err)
	}
	return nil
}

// RecordCompletion writes a completion signal and, for a maintenance
// failure, the durable maintenance flag in the same transaction, so the
// orchestrator can never observe one without the other.
func (s *Store) RecordCompletion(ctx context.Context, sig Signal) error {
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE completion_signal
			 SET attempt_id = ?, success = ?, reason = ?, ts = ?
			 WHERE id = 1`,
			sig.AttemptID, boolInt(sig.Success), sig.Reason, toMillis(sig.At))
		if err != nil {
			return err
		}
		if !sig.Success && sig.Reason == ReasonMaintenance {
			_, err = tx.ExecContext(ctx,
				`UPDATE snapshots SET maintenance_at = ? WHERE id = 1`,
				toMillis(sig.At))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: record completion: %w", err)
	}
	return nil
}

// LatestSignal reads the mailbox. ok is false when no signal has ever been
// written.
func (s *Store) LatestSignal(ctx context.Context) (sig Signal, ok bool, err error) {
	var success int
	var tsMs int64
	err = s.DB.QueryRowContext(ctx,
		`SELECT attempt_id, success, reason, ts FROM completion_signal WHERE id = 1`,
	).Scan(&sig.AttemptID, &success, &sig.Reason, &tsMs)
	if err != nil {
		return Signal{}, false, fmt.Errorf("store: read signal: %w", err)
	}
	if tsMs == 0 {
		return Signal{}, false, nil
	}
	sig.Success = success != 0
	sig.At = fromMillis(tsMs)
	return sig, true, nil
}
