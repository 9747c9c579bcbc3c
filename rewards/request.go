/*
request.go - Redemption request creation

PURPOSE:
  Turns "unit U wants offer O" into a pending redemption. Nothing is
  debited here; the balance check is advisory and repeated by the deciding
  vote.

CHECKS (in order, nothing is written when one fails):
  1. Offer exists                      → ErrOfferNotFound
  2. Offer is active                   → ErrOfferInactive
  3. Offer below its redemption cap    → ErrOfferExhausted
  4. Unit balance ≥ offer cost         → BalanceError{Stage: request}

SNAPSHOTS:
  PointsSpent, RequiredApprovals and ValidityDays are copied from the offer
  and configuration at creation. Later catalog edits change neither the
  price nor the quorum of an in-flight request.

SEE ALSO:
  - coordinator.go: what happens to the pending record next
*/
package rewards

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/troopkit/redemption-engine/generic"
)

type RequestService struct {
	store             Store
	catalog           OfferCatalog
	ledger            *PointsLedger
	clock             generic.Clock
	requiredApprovals int
	events            dispatcher
}

// Create records a pending redemption of offerID for unitID.
func (s *RequestService) Create(ctx context.Context, offerID, unitID, requestedBy string) (*Redemption, error) {
	if offerID == "" || unitID == "" || requestedBy == "" {
		return nil, fmt.Errorf("%w: offer, unit and requester are required", ErrInvalidArgument)
	}

	offer, err := s.catalog.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if !offer.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrOfferInactive, offerID)
	}
	if err := s.checkCapacity(ctx, offer); err != nil {
		return nil, err
	}

	balance, err := s.ledger.Balance(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if balance < offer.PointsCost {
		return nil, &BalanceError{
			Stage:     StageRequest,
			UnitID:    unitID,
			Available: balance,
			Required:  offer.PointsCost,
		}
	}

	now := s.clock.Now()
	r := &Redemption{
		ID:                uuid.NewString(),
		OfferID:           offer.ID,
		PartnerID:         offer.PartnerID,
		UnitID:            unitID,
		RequestedBy:       requestedBy,
		PointsSpent:       offer.PointsCost,
		RequiredApprovals: s.requiredApprovals,
		ValidityDays:      offer.ValidityDays,
		CreatedAt:         now,
		State:             Pending{},
	}
	if err := s.store.InsertRedemption(ctx, r); err != nil {
		return nil, fmt.Errorf("insert redemption: %w", err)
	}

	s.events.emit(ctx, newEvent(EventCreated, r, requestedBy, now))
	return r, nil
}

// checkCapacity compares the catalog baseline plus the codes issued by this
// service against the offer cap.
func (s *RequestService) checkCapacity(ctx context.Context, offer Offer) error {
	if offer.MaxRedemptions == nil {
		return nil
	}
	issued, err := s.store.ListRedemptions(ctx, RedemptionFilter{
		OfferID:  offer.ID,
		Statuses: []Status{StatusActive, StatusUsed, StatusExpired},
	})
	if err != nil {
		return fmt.Errorf("count redemptions of %s: %w", offer.ID, err)
	}
	if offer.CurrentRedemptions+len(issued) >= *offer.MaxRedemptions {
		return fmt.Errorf("%w: %s (%d of %d)", ErrOfferExhausted,
			offer.ID, offer.CurrentRedemptions+len(issued), *offer.MaxRedemptions)
	}
	return nil
}
