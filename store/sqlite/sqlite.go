/*
Package sqlite provides a SQLite-backed implementation of rewards.Store.

PURPOSE:
  Persists the unit points ledger, redemptions and approvals in one SQLite
  database, so a deciding vote, its debit and its code commit together.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the transactions table
  - Redemptions are updated in place but never deleted
  - Approvals are only ever inserted

KEY TABLES:
  transactions:          Immutable ledger of all balance changes
  redemptions:           One row per request, state flattened into columns
  redemption_approvals:  One row per (redemption, animator)

INDEXES:
  - idempotency_key UNIQUE: a redemption debit lands at most once
  - idx_redemptions_code:   a code is issued at most once, ever
  - idx_redemptions_status_expires: the expiry sweep

CONCURRENCY:
  SQLite has a single writer. The Store serializes transactions with a
  mutex and keeps one open connection, which also makes ":memory:"
  databases behave as one database. Inside WithTx every statement runs on
  the *sql.Tx; calling the Store itself from fn would wait for the
  connection fn already holds.

MIGRATION:
  Schema is applied from the embedded migrations/ directory on New(),
  tracked in schema_version.

USAGE:
  store, err := sqlite.New("./data/redemptions.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - rewards/store.go: Interface definitions
  - store/sqlstore: queries shared with the PostgreSQL store
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/troopkit/redemption-engine/generic"
	"github.com/troopkit/redemption-engine/rewards"
	"github.com/troopkit/redemption-engine/store/sqlstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements rewards.Store using SQLite.
type Store struct {
	db *sql.DB
	q  sqlstore.Queries
	mu sync.RWMutex
}

var _ rewards.Store = (*Store)(nil)

// New opens the database at dbPath. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := sqlstore.Migrate(context.Background(), db, migrations, `UPDATE schema_version SET version = ?`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{
		db: db,
		q: sqlstore.NewQueries(sqlstore.Dialect{
			UniqueViolation: uniqueViolation,
		}),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(rewards.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, q: s.q}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
	q  sqlstore.Queries
}

func (ts *txStore) Append(ctx context.Context, tx generic.Transaction) error {
	return ts.q.Append(ctx, ts.tx, tx)
}

func (ts *txStore) Load(ctx context.Context, entityID generic.EntityID) ([]generic.Transaction, error) {
	return ts.q.Load(ctx, ts.tx, entityID)
}

func (ts *txStore) Exists(ctx context.Context, key string) (bool, error) {
	return ts.q.Exists(ctx, ts.tx, key)
}

func (ts *txStore) GetRedemption(ctx context.Context, id string) (*rewards.Redemption, error) {
	return ts.q.GetRedemption(ctx, ts.tx, id, false)
}

func (ts *txStore) InsertRedemption(ctx context.Context, r *rewards.Redemption) error {
	return ts.q.InsertRedemption(ctx, ts.tx, r)
}

func (ts *txStore) UpdateRedemption(ctx context.Context, r *rewards.Redemption) error {
	return ts.q.UpdateRedemption(ctx, ts.tx, r)
}

func (ts *txStore) ListRedemptions(ctx context.Context, f rewards.RedemptionFilter) ([]rewards.Redemption, error) {
	return ts.q.ListRedemptions(ctx, ts.tx, f)
}

func (ts *txStore) CodeExists(ctx context.Context, code string) (bool, error) {
	return ts.q.CodeExists(ctx, ts.tx, code)
}

// LockUnit is a no-op: the store mutex already serializes transactions.
func (ts *txStore) LockUnit(context.Context, string) error { return nil }

// =============================================================================
// NON-TRANSACTIONAL ACCESS
// =============================================================================

func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Append(ctx, s.db, tx)
}

func (s *Store) Load(ctx context.Context, entityID generic.EntityID) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.Load(ctx, s.db, entityID)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.Exists(ctx, s.db, key)
}

func (s *Store) GetRedemption(ctx context.Context, id string) (*rewards.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetRedemption(ctx, s.db, id, false)
}

func (s *Store) InsertRedemption(ctx context.Context, r *rewards.Redemption) error {
	return s.WithTx(ctx, func(tx rewards.Tx) error {
		return tx.InsertRedemption(ctx, r)
	})
}

func (s *Store) UpdateRedemption(ctx context.Context, r *rewards.Redemption) error {
	return s.WithTx(ctx, func(tx rewards.Tx) error {
		return tx.UpdateRedemption(ctx, r)
	})
}

func (s *Store) ListRedemptions(ctx context.Context, f rewards.RedemptionFilter) ([]rewards.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListRedemptions(ctx, s.db, f)
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CodeExists(ctx, s.db, code)
}

func (s *Store) LockUnit(context.Context, string) error { return nil }

// Units returns every unit with ledger activity.
func (s *Store) Units(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.Units(ctx, s.db)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"redemption_approvals", "redemptions", "transactions"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// uniqueViolation extracts "table.column" from a SQLite unique or primary
// key error.
func uniqueViolation(err error) (string, bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return "", false
	}
	if sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique &&
		sqliteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return "", false
	}
	msg := sqliteErr.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:], true
	}
	return msg, true
}
