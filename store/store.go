// Package store provides the SQLite persistence layer for portalwatch:
// the auto-check metadata singleton, runtime settings, snapshot timestamps
// written by the extraction agent, the single-slot completion-signal
// mailbox, and the per-attempt audit log.
//
// Only one refresh attempt runs at a time, so reads and writes here need no
// transactional isolation beyond SQLite's own. Metadata writes are
// overwrite-only.
package store

import (
	"database/sql"

	"github.com/hazyhaar/portalwatch/dbopen"
)

// Store is the portalwatch database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the portalwatch SQLite database at path, applies
// pragmas and the schema, and seeds the singleton rows.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}

	s := &Store{DB: db}
	if err := s.seed(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Wrap adapts an already-open database (tests use dbopen.OpenMemory).
// The schema must already be applied; Wrap seeds the singleton rows.
func Wrap(db *sql.DB) (*Store, error) {
	s := &Store{DB: db}
	if err := s.seed(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
