/*
ledger.go - Append-only transaction log

PURPOSE:
  The Ledger is the immutable source of truth for all balance changes.
  Every earned credit and every redemption debit is recorded here. Balance is always computed by replaying transactions -
  there's no separate "balance" field that can get out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, transactions cannot be modified
  3. AUDITABLE: Every balance change is traceable with full context
  4. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)

EXAMPLE FLOW:
  1. Scouts finish a challenge:       TxEarned  +400
  2. Another challenge:               TxEarned  +600
  3. Redemption reaches quorum:       TxDebit   -300

  Unit ledger: [+400, +600, -300] = 700 points

SEE ALSO:
  - store.go: Low-level persistence interface
  - rewards/ledger.go: Unit points wrapper with the guarded debit
*/
package generic

import "context"

// =============================================================================
// LEDGER - Append-only transaction log
// =============================================================================

// Ledger is the source of truth for all balance changes.
//
// INVARIANTS:
//   - Append-only: No Update, No Delete. EVER.
//   - Immutable: Once written, transactions cannot be modified.
//   - Auditable: Every balance change is traceable.
type Ledger interface {
	// Append adds a transaction. Fails if idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// Balance replays the entity's transactions.
	Balance(ctx context.Context, entityID EntityID, unit Unit) (BalanceSnapshot, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

var _ Ledger = (*DefaultLedger)(nil)

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) Balance(ctx context.Context, entityID EntityID, unit Unit) (BalanceSnapshot, error) {
	txs, err := l.Store.Load(ctx, entityID)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	return Replay(entityID, unit, txs), nil
}

// Replay folds transactions into a snapshot.
func Replay(entityID EntityID, unit Unit, txs []Transaction) BalanceSnapshot {
	zero := NewAmountFromInt(0, unit)
	snap := BalanceSnapshot{
		EntityID:    entityID,
		Balance:     zero,
		TotalEarned: zero,
		TotalSpent:  zero,
	}
	for _, tx := range txs {
		snap.Balance = snap.Balance.Add(tx.Delta)
		switch tx.Type {
		case TxEarned:
			snap.TotalEarned = snap.TotalEarned.Add(tx.Delta)
		case TxDebit:
			snap.TotalSpent = snap.TotalSpent.Sub(tx.Delta)
		}
	}
	return snap
}
