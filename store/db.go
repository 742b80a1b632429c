package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// schemaVersion is the highest migration this build knows how to apply.
// Open refuses a database stamped with a version greater than this.
const schemaVersion = 1

// Store is the engine's local persistence layer. It is safe for concurrent
// use; the mutex is held only for the duration of one transaction.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path, enables
// write-ahead logging and foreign keys, and brings the schema up to date.
func Open(path string) (*Store, error) {
	logger := logrus.WithFields(logrus.Fields{"component": "store", "operation": "Open", "path": path})

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, ioError(fmt.Errorf("store: open: %w", err))
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("local store opened")
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return ioError(fmt.Errorf("store: create schema_version: %w", err))
	}

	current, err := s.currentVersion(ctx)
	if err != nil {
		return err
	}
	if current > schemaVersion {
		return &StoreError{Kind: ErrorKindUnsupportedVersion, Err: fmt.Errorf("store: database schema version %d newer than supported %d", current, schemaVersion)}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logrus.WithFields(logrus.Fields{"component": "store", "migration": m.version}).Info("applying schema migration")
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return ioError(fmt.Errorf("store: begin migration %d: %w", m.version, err))
		}
		if err := m.apply(ctx, tx); err != nil {
			tx.Rollback()
			return ioError(fmt.Errorf("store: apply migration %d: %w", m.version, err))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
			tx.Rollback()
			return ioError(fmt.Errorf("store: stamp migration %d: %w", m.version, err))
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return ioError(fmt.Errorf("store: stamp migration %d: %w", m.version, err))
		}
		if err := tx.Commit(); err != nil {
			return ioError(fmt.Errorf("store: commit migration %d: %w", m.version, err))
		}
	}
	return nil
}

func (s *Store) currentVersion(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, ioError(fmt.Errorf("store: read schema version: %w", err))
	}
	return v, nil
}

// withTx runs fn inside a transaction held under the store's mutex,
// translating sqlite3 constraint errors into StoreError(Conflict) and
// anything else into StoreError(IO).
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ioError(fmt.Errorf("store: begin: %w", err))
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		if errors.Is(err, ErrNoRows) {
			return err
		}
		return classifyErr(err)
	}
	if err := tx.Commit(); err != nil {
		return ioError(fmt.Errorf("store: commit: %w", err))
	}
	return nil
}

func classifyErr(err error) error {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return conflictError(err)
		}
	}
	return ioError(err)
}
