/*
store.go - Redemption persistence contract

PURPOSE:
  The Store is the only component allowed to mutate redemption records.
  It also carries the unit ledger, so the deciding vote can record the
  approval, append the debit and activate the redemption in one
  transaction.

ATOMICITY:
  WithTx runs fn as one serializable unit of work. Implementations:
  - store/memory:   one mutex + snapshot rollback
  - store/sqlite:   process mutex + single connection + SQL transaction
  - store/postgres: row locks (SELECT ... FOR UPDATE) + per-unit advisory lock

  UpdateRedemption compares Version and fails with
  generic.ErrConcurrentModification on mismatch; callers retry.

APPEND-ONLY:
  Redemptions are never deleted. Approvals are never removed.
*/
package rewards

import (
	"context"
	"time"

	"github.com/troopkit/redemption-engine/generic"
)

// RedemptionFilter selects redemptions. Zero fields match everything.
type RedemptionFilter struct {
	UnitID        string
	OfferID       string
	Statuses      []Status
	ExpiresBefore *time.Time // Only activated redemptions with ExpiresAt < value
}

// Tx is the view of the store inside a transaction.
type Tx interface {
	generic.Store

	// GetRedemption loads a redemption. Inside WithTx the row is locked for
	// the rest of the transaction where the backend supports it.
	GetRedemption(ctx context.Context, id string) (*Redemption, error)

	// InsertRedemption persists a new record with Version 1.
	InsertRedemption(ctx context.Context, r *Redemption) error

	// UpdateRedemption persists r if the stored Version equals r.Version and
	// bumps r.Version.
	UpdateRedemption(ctx context.Context, r *Redemption) error

	// ListRedemptions returns matches ordered by CreatedAt, newest first.
	ListRedemptions(ctx context.Context, filter RedemptionFilter) ([]Redemption, error)

	// CodeExists reports whether any redemption ever received code.
	CodeExists(ctx context.Context, code string) (bool, error)

	// LockUnit serializes debits against one unit until the transaction ends.
	LockUnit(ctx context.Context, unitID string) error
}

// Store is a Tx usable outside a transaction plus the transaction runner.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// MatchesFilter is used by stores that filter in memory.
func MatchesFilter(r *Redemption, f RedemptionFilter) bool {
	if f.UnitID != "" && r.UnitID != f.UnitID {
		return false
	}
	if f.OfferID != "" && r.OfferID != f.OfferID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if r.Status() == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.ExpiresBefore != nil {
		a, ok := r.Activation()
		if !ok || !a.ExpiresAt.Before(*f.ExpiresBefore) {
			return false
		}
	}
	return true
}
