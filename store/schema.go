package store

// Schema contains the complete DDL for the portalwatch tables.
// Timestamps are Unix milliseconds; 0 means "never".
const Schema = `
-- Auto-check metadata: one row, overwritten by the scheduling layer only.
CREATE TABLE IF NOT EXISTS autocheck_meta (
    id                   INTEGER PRIMARY KEY CHECK (id = 1),
    last_attempt         INTEGER NOT NULL DEFAULT 0,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    disabled_by_failure  INTEGER NOT NULL DEFAULT 0
);

-- Runtime settings: one row. The jitter is generated once at first open and
-- never changes for the lifetime of the installation.
CREATE TABLE IF NOT EXISTS settings (
    id                      INTEGER PRIMARY KEY CHECK (id = 1),
    auto_check_enabled      INTEGER NOT NULL DEFAULT 1,
    auto_check_interval_min INTEGER NOT NULL DEFAULT 180,
    auto_check_jitter_min   INTEGER NOT NULL DEFAULT 0,
    notifications_enabled   INTEGER NOT NULL DEFAULT 1
);

-- Snapshot arrival timestamps: one row, written by the extraction agent
-- (via the receiver), read as pre-attempt baselines by the orchestrator.
CREATE TABLE IF NOT EXISTS snapshots (
    id                INTEGER PRIMARY KEY CHECK (id = 1),
    status_updated_at INTEGER NOT NULL DEFAULT 0,
    detail_updated_at INTEGER NOT NULL DEFAULT 0,
    maintenance_at    INTEGER NOT NULL DEFAULT 0
);

-- Completion signal: single-slot mailbox, overwritten by each agent emission.
CREATE TABLE IF NOT EXISTS completion_signal (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    attempt_id TEXT NOT NULL DEFAULT '',
    success    INTEGER NOT NULL DEFAULT 0,
    reason     TEXT NOT NULL DEFAULT '',
    ts         INTEGER NOT NULL DEFAULT 0
);

-- Attempt audit log: one record per finished refresh attempt.
CREATE TABLE IF NOT EXISTS attempts (
    id          TEXT PRIMARY KEY,
    trigger_by  TEXT NOT NULL,
    code        TEXT NOT NULL,
    success     INTEGER NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    started_at  INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_started ON attempts(started_at DESC);

-- Encrypted portal credentials: one row, sealed by the vault package.
CREATE TABLE IF NOT EXISTS credentials (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    nonce      BLOB NOT NULL,
    sealed     BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// seed inserts the singleton rows if missing. The settings row gets its
// per-installation jitter on first insert.
func (s *Store) seed() error {
	stmts := []string{
		`INSERT OR IGNORE INTO autocheck_meta (id) VALUES (1)`,
		`INSERT OR IGNORE INTO snapshots (id) VALUES (1)`,
		`INSERT OR IGNORE INTO completion_signal (id) VALUES (1)`,
	}
	for _, q := range stmts {
		if _, err := s.DB.Exec(q); err != nil {
			return err
		}
	}
	return s.seedSettings()
}
