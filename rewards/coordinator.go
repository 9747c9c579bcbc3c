/*
coordinator.go - Quorum approval state machine

PURPOSE:
  Collects animator votes on a pending redemption. The vote that reaches
  the quorum is the deciding vote: it locks the unit, re-reads the balance,
  debits the points, issues the code and activates the redemption, all in
  the same store transaction as the vote itself.

APPROVE:
  ┌────────────┐  rejected           ┌────────────────────┐
  │ load + lazy│ ──────────────────▶ │ ErrAlreadyTerminal │
  │   expiry   │  active/used/expired└────────────────────┘
  └────────────┘ ──────────────────▶   ErrNotPending
        │ pending
        ▼
  already voted? ──yes──▶ ErrAlreadyApproved
        │ no
        ▼
  append vote ──▶ below quorum? ──yes──▶ persist, Recorded
                        │ no (deciding vote)
                        ▼
            lock unit, re-read balance
              │ short              │ enough
              ▼                    ▼
     persist vote only      debit + code + Active
     ErrInsufficient-       persist, QuorumReached
     BalanceAtQuorum

STALLED QUORUM:
  A redemption whose deciding transition failed on balance keeps all of
  its votes and stays pending. Any later Approve call re-attempts the
  transition without appending a vote (Recorded=false). Reject remains
  available to close it.

CONCURRENCY:
  Every attempt runs in one Store.WithTx. A lost optimistic version check
  surfaces as generic.ErrConcurrentModification; the whole attempt is then
  re-run from a fresh read, a bounded number of times. Two deciding votes
  on the same redemption therefore produce one activation, and two
  deciding votes on different redemptions of the same unit serialize on
  the unit lock so the second one sees the first debit.

SEE ALSO:
  - ledger.go: debit
  - code.go: issue
*/
package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/troopkit/redemption-engine/generic"
)

const maxTxAttempts = 5

// ApprovalResult describes what one Approve call did.
type ApprovalResult struct {
	Recorded      bool // A new vote was stored
	QuorumReached bool // This call activated the redemption
	Code          string
	ExpiresAt     time.Time
	Redemption    *Redemption
}

type ApprovalCoordinator struct {
	store   Store
	catalog OfferCatalog
	ledger  *PointsLedger
	codes   *CodeIssuer
	clock   generic.Clock
	events  dispatcher
}

// =============================================================================
// APPROVE
// =============================================================================

func (c *ApprovalCoordinator) Approve(ctx context.Context, redemptionID, animatorID, animatorName string) (ApprovalResult, error) {
	if redemptionID == "" || animatorID == "" {
		return ApprovalResult{}, fmt.Errorf("%w: redemption and animator are required", ErrInvalidArgument)
	}

	var activationErr error
	res, err := withRetry(ctx, func() (ApprovalResult, error) {
		activationErr = nil
		var res ApprovalResult
		err := c.store.WithTx(ctx, func(tx Tx) error {
			var err error
			res, activationErr, err = c.approveTx(ctx, tx, redemptionID, animatorID, animatorName)
			return err
		})
		return res, err
	})
	if err != nil {
		return ApprovalResult{}, err
	}

	now := c.clock.Now()
	if res.Recorded {
		c.events.emit(ctx, newEvent(EventApprovalRecorded, res.Redemption, animatorID, now))
	}
	switch {
	case res.QuorumReached:
		c.events.emit(ctx, newEvent(EventActivated, res.Redemption, animatorID, now))
	case activationErr != nil:
		ev := newEvent(EventActivationFailed, res.Redemption, animatorID, now)
		ev.Reason = activationErr.Error()
		c.events.emit(ctx, ev)
		return res, activationErr
	}
	return res, nil
}

// approveTx returns activationErr when the deciding transition failed on
// balance; the transaction still commits so the vote is kept.
func (c *ApprovalCoordinator) approveTx(ctx context.Context, tx Tx, id, animatorID, animatorName string) (res ApprovalResult, activationErr, err error) {
	r, err := tx.GetRedemption(ctx, id)
	if err != nil {
		return res, nil, err
	}
	now := c.clock.Now()

	view := r.EffectiveAt(now)
	switch view.Status() {
	case StatusPendingApproval:
	case StatusRejected:
		return res, nil, stateErr("approve", &view, ErrAlreadyTerminal)
	default:
		return res, nil, stateErr("approve", &view, ErrNotPending)
	}

	if !r.QuorumStalled() {
		if r.HasApproved(animatorID) {
			return res, nil, stateErr("approve", r, ErrAlreadyApproved)
		}
		r.Approvals = append(r.Approvals, Approval{
			AnimatorID:   animatorID,
			AnimatorName: animatorName,
			ApprovedAt:   now,
		})
		res.Recorded = true
	}
	res.Redemption = r

	if len(r.Approvals) < r.RequiredApprovals {
		return res, nil, tx.UpdateRedemption(ctx, r)
	}

	activation, err := c.activate(ctx, tx, r, now)
	var balanceErr *BalanceError
	if errors.As(err, &balanceErr) {
		if res.Recorded {
			if err := tx.UpdateRedemption(ctx, r); err != nil {
				return res, nil, err
			}
		}
		return res, err, nil
	}
	if err != nil {
		return res, nil, err
	}

	r.State = Active{Activation: activation}
	if err := tx.UpdateRedemption(ctx, r); err != nil {
		return res, nil, err
	}
	res.QuorumReached = true
	res.Code = activation.Code
	res.ExpiresAt = activation.ExpiresAt
	return res, nil, nil
}

// activate performs the deciding transition's side effects: debit and code.
func (c *ApprovalCoordinator) activate(ctx context.Context, tx Tx, r *Redemption, now time.Time) (Activation, error) {
	if err := tx.LockUnit(ctx, r.UnitID); err != nil {
		return Activation{}, fmt.Errorf("lock unit %s: %w", r.UnitID, err)
	}

	validity := r.ValidityDays
	offer, err := c.catalog.GetOffer(ctx, r.OfferID)
	switch {
	case err == nil && offer.ValidityDays > 0:
		validity = offer.ValidityDays
	case err != nil && !errors.Is(err, ErrOfferNotFound):
		return Activation{}, err
	}
	if validity <= 0 {
		return Activation{}, invariantf("redemption %s has no validity period", r.ID)
	}

	if err := c.ledger.debit(ctx, tx, r.UnitID, r.ID, r.PointsSpent, now); err != nil {
		return Activation{}, err
	}
	code, err := c.codes.issue(ctx, tx)
	if err != nil {
		return Activation{}, err
	}
	return Activation{
		Code:        code,
		ActivatedAt: now,
		ExpiresAt:   generic.AddDays(now, validity),
	}, nil
}

// =============================================================================
// REJECT
// =============================================================================

// Reject closes a pending redemption. Points are never touched.
func (c *ApprovalCoordinator) Reject(ctx context.Context, redemptionID, animatorID, reason string) (*Redemption, error) {
	reason = strings.TrimSpace(reason)
	if redemptionID == "" || animatorID == "" {
		return nil, fmt.Errorf("%w: redemption and animator are required", ErrInvalidArgument)
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}

	r, err := withRetry(ctx, func() (*Redemption, error) {
		var out *Redemption
		err := c.store.WithTx(ctx, func(tx Tx) error {
			r, err := tx.GetRedemption(ctx, redemptionID)
			if err != nil {
				return err
			}
			now := c.clock.Now()
			if view := r.EffectiveAt(now); view.Status() != StatusPendingApproval {
				return stateErr("reject", &view, ErrAlreadyTerminal)
			}
			r.State = Rejected{RejectedBy: animatorID, Reason: reason, RejectedAt: now}
			if err := tx.UpdateRedemption(ctx, r); err != nil {
				return err
			}
			out = r
			return nil
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}

	c.events.emit(ctx, newEvent(EventRejected, r, animatorID, c.clock.Now()))
	return r, nil
}

// withRetry re-runs fn while it fails with a retryable error.
func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		out, err = fn()
		if err == nil || !generic.IsRetryable(err) {
			return out, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
	}
	return out, fmt.Errorf("gave up after %d attempts: %w", maxTxAttempts, err)
}
