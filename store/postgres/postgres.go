/*
Package postgres provides a PostgreSQL-backed implementation of
rewards.Store for multi-instance deployments.

CONCURRENCY:
  Transactions run at READ COMMITTED. Two locks make the deciding vote
  safe across processes:
  - GetRedemption inside WithTx reads the row FOR UPDATE, so two votes on
    one redemption queue up and the second sees the first one's result.
  - LockUnit takes pg_advisory_xact_lock(hashtext(unit_id)), so two
    deciding votes on different redemptions of one unit debit in turn and
    the second re-reads the balance after the first commits.
  Serialization failures and deadlocks surface as
  generic.ErrConcurrentModification and are retried by the callers.

SEE ALSO:
  - store/sqlstore: queries shared with the SQLite store
*/
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/lib/pq"

	"github.com/troopkit/redemption-engine/generic"
	"github.com/troopkit/redemption-engine/rewards"
	"github.com/troopkit/redemption-engine/store/sqlstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	codeUniqueViolation       = "23505"
	codeSerializationFailure  = "40001"
	codeDeadlockDetected      = "40P01"
	codeLockNotAvailable      = "55P03"
	defaultMaxOpenConnections = 20
)

type Store struct {
	db *sql.DB
	q  sqlstore.Queries
}

var _ rewards.Store = (*Store)(nil)

// Open connects to dsn, checks the connection and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConnections)
	db.SetMaxIdleConns(defaultMaxOpenConnections / 2)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}

	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := sqlstore.Migrate(ctx, db, migrations, `UPDATE schema_version SET version = $1`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return New(db), nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{
		db: db,
		q: sqlstore.NewQueries(sqlstore.Dialect{
			Rebind:          sqlstore.DollarRebind,
			ForUpdate:       "FOR UPDATE",
			UniqueViolation: uniqueViolation,
		}),
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(rewards.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, q: s.q}); err != nil {
		return mapError(err)
	}
	return mapError(sqlTx.Commit())
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
	return ts.q.GetRedemption(ctx, ts.tx, id, true)
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

// LockUnit holds a transaction-scoped advisory lock on the unit.
func (ts *txStore) LockUnit(ctx context.Context, unitID string) error {
	_, err := ts.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, unitID)
	return err
}

// =============================================================================
// NON-TRANSACTIONAL ACCESS
// =============================================================================

func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	return mapError(s.q.Append(ctx, s.db, tx))
}

func (s *Store) Load(ctx context.Context, entityID generic.EntityID) ([]generic.Transaction, error) {
	return s.q.Load(ctx, s.db, entityID)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.q.Exists(ctx, s.db, key)
}

func (s *Store) GetRedemption(ctx context.Context, id string) (*rewards.Redemption, error) {
	return s.q.GetRedemption(ctx, s.db, id, false)
}

func (s *Store) InsertRedemption(ctx context.Context, r *rewards.Redemption) error {
	return s.WithTx(ctx, func(tx rewards.Tx) error { return tx.InsertRedemption(ctx, r) })
}

func (s *Store) UpdateRedemption(ctx context.Context, r *rewards.Redemption) error {
	return s.WithTx(ctx, func(tx rewards.Tx) error { return tx.UpdateRedemption(ctx, r) })
}

func (s *Store) ListRedemptions(ctx context.Context, f rewards.RedemptionFilter) ([]rewards.Redemption, error) {
	return s.q.ListRedemptions(ctx, s.db, f)
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	return s.q.CodeExists(ctx, s.db, code)
}

// LockUnit outside a transaction has nothing to hold on to.
func (s *Store) LockUnit(context.Context, string) error { return nil }

func (s *Store) Units(ctx context.Context) ([]string, error) {
	return s.q.Units(ctx, s.db)
}

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE redemption_approvals, redemptions, transactions`)
	return err
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == codeUniqueViolation {
		return pqErr.Table + "." + pqErr.Constraint, true
	}
	return "", false
}

// mapError turns lock contention into the retryable sentinel.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %s", generic.ErrConcurrentModification, pqErr.Message)
	}
	return err
}
