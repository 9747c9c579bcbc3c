/*
store.go - Persistence interface for ledger transactions

PURPOSE:
  Defines the interface between the ledger and the database.
  The Store handles persistence while maintaining append-only semantics.
  Different implementations use SQLite, PostgreSQL, or in-memory storage.

APPEND-ONLY CONTRACT:
  - Append(): Single transaction write
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  Every write may carry an idempotency key. If the key already exists,
  the write is rejected. A redemption debit uses the key
  "redemption:<id>:debit", so it can land in the ledger at most once no
  matter how many times the deciding vote is retried.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory ledger for testing
  - store/memory, store/sqlite, store/postgres: full redemption stores

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for transaction persistence (append-only)
// =============================================================================

// Store handles persistence of transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if
	// the key exists.
	Append(ctx context.Context, tx Transaction) error

	// Load returns all transactions for an entity, ordered by EffectiveAt.
	Load(ctx context.Context, entityID EntityID) ([]Transaction, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
