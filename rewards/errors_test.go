package rewards_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/troopkit/redemption-engine/generic"
	"github.com/troopkit/redemption-engine/rewards"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		kind rewards.Kind
		code string
	}{
		{fmt.Errorf("wrap: %w", rewards.ErrOfferInactive), rewards.KindValidation, "offer_inactive"},
		{rewards.ErrOfferNotFound, rewards.KindNotFound, "offer_not_found"},
		{&rewards.BalanceError{Stage: rewards.StageRequest}, rewards.KindValidation, "insufficient_balance"},
		{&rewards.BalanceError{Stage: rewards.StageQuorum}, rewards.KindConflict, "insufficient_balance_at_quorum"},
		{&rewards.StateError{Op: "approve", Err: rewards.ErrAlreadyApproved}, rewards.KindConflict, "already_approved"},
		{fmt.Errorf("update: %w", generic.ErrConcurrentModification), rewards.KindConflict, "concurrent_modification"},
		{fmt.Errorf("%w: twice", rewards.ErrInvariantViolation), rewards.KindInvariant, "invariant_violation"},
		{rewards.ErrCodeSpaceExhausted, rewards.KindInvariant, "code_space_exhausted"},
		{errors.New("disk on fire"), rewards.KindInternal, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.kind, rewards.KindOf(tt.err))
			assert.Equal(t, tt.code, rewards.Code(tt.err))
		})
	}
}

func TestRedemptionValidate(t *testing.T) {
	base := func() rewards.Redemption {
		return rewards.Redemption{
			ID: "r1", OfferID: "o1", UnitID: "u1",
			PointsSpent: 300, RequiredApprovals: 3,
			Approvals: []rewards.Approval{{AnimatorID: "a1"}},
			State:     rewards.Pending{},
		}
	}

	ok := base()
	assert.NoError(t, ok.Validate())

	dup := base()
	dup.Approvals = append(dup.Approvals, rewards.Approval{AnimatorID: "a1"})
	assert.ErrorIs(t, dup.Validate(), rewards.ErrInvariantViolation)

	tooMany := base()
	tooMany.Approvals = []rewards.Approval{{AnimatorID: "a1"}, {AnimatorID: "a2"}, {AnimatorID: "a3"}, {AnimatorID: "a4"}}
	assert.ErrorIs(t, tooMany.Validate(), rewards.ErrInvariantViolation)

	activeShort := base()
	activeShort.State = rewards.Active{Activation: rewards.Activation{Code: "SCOUT-ABCDEF"}}
	assert.ErrorIs(t, activeShort.Validate(), rewards.ErrInvariantViolation)

	rejectedNoReason := base()
	rejectedNoReason.State = rewards.Rejected{RejectedBy: "a2"}
	assert.ErrorIs(t, rejectedNoReason.Validate(), rewards.ErrInvariantViolation)
}
