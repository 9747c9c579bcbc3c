/*
ledger.go - Unit points ledger with the single guarded debit

PURPOSE:
  Wraps the generic append-only ledger with the two rules of unit points:
  points only enter through RecordEarned, and they only leave through the
  debit of an activated redemption.

INVARIANT:
  For every unit, the sum of PointsSpent over activated redemptions never
  exceeds the points it earned. The debit is written with the idempotency
  key "redemption:<id>:debit", so it fires at most once per redemption.

  debit is unexported. It is only valid inside the
  activation transaction, after Tx.LockUnit, with the balance re-read from
  the same transaction.

BALANCE:
  Balance is always a replay of the unit's transactions. There is no cached
  counter to drift out of sync.

EXAMPLE:
  ledger := rewards.NewPointsLedger(store, generic.SystemClock{})
  ledger.RecordEarned(ctx, rewards.EarnedPoints{UnitID: "unit-1", Reference: "challenge-7", Points: 400})
  balance, _ := ledger.Balance(ctx, "unit-1") // 400

SEE ALSO:
  - generic/ledger.go: Replay
  - coordinator.go: the only caller of debit
*/
package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/troopkit/redemption-engine/generic"
)

// EarnedPoints is a credit reported by the points source when scouts
// complete a challenge.
type EarnedPoints struct {
	UnitID    string
	ScoutID   string
	Reference string // Challenge or submission id; makes the credit idempotent
	Points    int64
	Reason    string
}

// DebitKey is the idempotency key of a redemption's debit.
func DebitKey(redemptionID string) string {
	return "redemption:" + redemptionID + ":debit"
}

func earnedKey(unitID, reference string) string {
	return "earned:" + unitID + ":" + reference
}

// =============================================================================
// POINTS LEDGER
// =============================================================================

type PointsLedger struct {
	store Store
	clock generic.Clock
}

func NewPointsLedger(store Store, clock generic.Clock) *PointsLedger {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &PointsLedger{store: store, clock: clock}
}

// Balance returns earned minus spent for the unit.
func (l *PointsLedger) Balance(ctx context.Context, unitID string) (int64, error) {
	snap, err := balanceIn(ctx, l.store, unitID)
	if err != nil {
		return 0, err
	}
	return snap.Balance.Int(), nil
}

// Summary adds the advisory pending figures to the balance.
func (l *PointsLedger) Summary(ctx context.Context, unitID string) (BalanceView, error) {
	snap, err := balanceIn(ctx, l.store, unitID)
	if err != nil {
		return BalanceView{}, err
	}
	pending, err := l.store.ListRedemptions(ctx, RedemptionFilter{
		UnitID:   unitID,
		Statuses: []Status{StatusPendingApproval},
	})
	if err != nil {
		return BalanceView{}, fmt.Errorf("list pending redemptions: %w", err)
	}

	view := BalanceView{
		UnitID:          unitID,
		Earned:          snap.TotalEarned.Int(),
		Spent:           snap.TotalSpent.Int(),
		Available:       snap.Balance.Int(),
		PendingRequests: len(pending),
	}
	for _, r := range pending {
		view.PendingPoints += r.PointsSpent
	}
	return view, nil
}

// RecordEarned credits the unit. Replaying the same (unit, reference) pair
// is a no-op and reports recorded=false.
func (l *PointsLedger) RecordEarned(ctx context.Context, e EarnedPoints) (recorded bool, err error) {
	if e.UnitID == "" || e.Reference == "" {
		return false, fmt.Errorf("%w: unit and reference are required", ErrInvalidArgument)
	}
	if e.Points <= 0 {
		return false, fmt.Errorf("%w: %w", ErrInvalidArgument, generic.ErrInvalidAmount)
	}

	now := l.clock.Now()
	tx := generic.Transaction{
		ID:             generic.TransactionID(uuid.NewString()),
		EntityID:       generic.EntityID(e.UnitID),
		EffectiveAt:    now,
		Delta:          generic.Points(e.Points),
		Type:           generic.TxEarned,
		ReferenceID:    e.Reference,
		Reason:         e.Reason,
		IdempotencyKey: earnedKey(e.UnitID, e.Reference),
		CreatedBy:      e.ScoutID,
		CreatedAt:      now,
	}
	if e.ScoutID != "" {
		tx.Metadata = map[string]string{"scout_id": e.ScoutID}
	}

	err = generic.NewLedger(l.store).Append(ctx, tx)
	if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record earned points: %w", err)
	}
	return true, nil
}

// debit spends amount for redemptionID. The caller holds the unit lock.
func (l *PointsLedger) debit(ctx context.Context, tx Tx, unitID, redemptionID string, amount int64, at time.Time) error {
	if amount <= 0 {
		return invariantf("debit of %d points for %s", amount, redemptionID)
	}

	exists, err := tx.Exists(ctx, DebitKey(redemptionID))
	if err != nil {
		return fmt.Errorf("check debit key: %w", err)
	}
	if exists {
		return invariantf("redemption %s was already debited", redemptionID)
	}

	snap, err := balanceIn(ctx, tx, unitID)
	if err != nil {
		return err
	}
	if snap.Balance.LessThan(generic.Points(amount)) {
		return &BalanceError{
			Stage:     StageQuorum,
			UnitID:    unitID,
			Available: snap.Balance.Int(),
			Required:  amount,
		}
	}

	return tx.Append(ctx, generic.Transaction{
		ID:             generic.TransactionID(uuid.NewString()),
		EntityID:       generic.EntityID(unitID),
		EffectiveAt:    at,
		Delta:          generic.Points(amount).Neg(),
		Type:           generic.TxDebit,
		ReferenceID:    redemptionID,
		Reason:         "redemption activated",
		IdempotencyKey: DebitKey(redemptionID),
		CreatedAt:      at,
	})
}

func balanceIn(ctx context.Context, s generic.Store, unitID string) (generic.BalanceSnapshot, error) {
	snap, err := generic.NewLedger(s).Balance(ctx, generic.EntityID(unitID), generic.UnitPoints)
	if err != nil {
		return generic.BalanceSnapshot{}, fmt.Errorf("load ledger for unit %s: %w", unitID, err)
	}
	return snap, nil
}
