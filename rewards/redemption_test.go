package rewards_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troopkit/redemption-engine/generic"
	"github.com/troopkit/redemption-engine/rewards"
	"github.com/troopkit/redemption-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var start = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx     context.Context
	svc     *rewards.Service
	store   *memory.Store
	catalog *rewards.MemoryCatalog
	clock   *generic.ManualClock
	events  *recorder
}

type recorder struct {
	mu     sync.Mutex
	events []rewards.Event
}

func (r *recorder) Notify(_ context.Context, ev rewards.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []rewards.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]rewards.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func pizzaOffer() rewards.Offer {
	return rewards.Offer{
		ID:            "offer-pizza",
		PartnerID:     "partner-napoli",
		PartnerName:   "Napoli",
		Title:         "20% off the camp pizza night",
		PointsCost:    300,
		DiscountType:  rewards.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(20),
		ValidityDays:  30,
		IsActive:      true,
	}
}

func newFixture(t *testing.T, offers ...rewards.Offer) *fixture {
	t.Helper()
	if len(offers) == 0 {
		offers = []rewards.Offer{pizzaOffer()}
	}
	catalog, err := rewards.NewMemoryCatalog(offers...)
	require.NoError(t, err)

	f := &fixture{
		ctx:     context.Background(),
		store:   memory.New(),
		catalog: catalog,
		clock:   generic.NewManualClock(start),
		events:  &recorder{},
	}
	f.svc = rewards.NewService(f.store, catalog, rewards.Options{
		Clock:    f.clock,
		Notifier: f.events,
	})
	return f
}

func (f *fixture) earn(t *testing.T, unitID, reference string, points int64) {
	t.Helper()
	recorded, err := f.svc.RecordEarnedPoints(f.ctx, rewards.EarnedPoints{
		UnitID:    unitID,
		ScoutID:   "scout-1",
		Reference: reference,
		Points:    points,
	})
	require.NoError(t, err)
	require.True(t, recorded)
}

func (f *fixture) balance(t *testing.T, unitID string) int64 {
	t.Helper()
	b, err := f.svc.GetUnitPointsBalance(f.ctx, unitID)
	require.NoError(t, err)
	return b
}

func (f *fixture) request(t *testing.T, unitID string) *rewards.Redemption {
	t.Helper()
	r, err := f.svc.CreateRedemption(f.ctx, "offer-pizza", unitID, "animator-lead")
	require.NoError(t, err)
	return r
}

// approveN records votes from animator-1..animator-n.
func (f *fixture) approveN(t *testing.T, id string, n int) rewards.ApprovalResult {
	t.Helper()
	var res rewards.ApprovalResult
	for i := 1; i <= n; i++ {
		var err error
		res, err = f.svc.ApproveRedemption(f.ctx, id, animator(i), "Animator")
		require.NoError(t, err)
	}
	return res
}

func animator(i int) string {
	return "animator-" + strconv.Itoa(i)
}

func (f *fixture) stored(t *testing.T, id string) *rewards.Redemption {
	t.Helper()
	r, err := f.store.GetRedemption(f.ctx, id)
	require.NoError(t, err)
	return r
}

// =============================================================================
// END-TO-END SCENARIOS
// =============================================================================

func TestScenario_ThreeApprovalsActivate(t *testing.T) {
	// GIVEN: Unit with 1000 points and an offer costing 300
	// WHEN: Three distinct animators approve in sequence
	// THEN: The third vote activates with a code, balance drops to 700,
	//       expiry is approval time + validity days
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 1000)
	r := f.request(t, "unit-1")

	first := f.approveN(t, r.ID, 1)
	assert.True(t, first.Recorded)
	assert.False(t, first.QuorumReached)

	_, err := f.svc.ApproveRedemption(f.ctx, r.ID, animator(2), "Animator")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	approvedAt := f.clock.Now()
	res, err := f.svc.ApproveRedemption(f.ctx, r.ID, animator(3), "Animator")
	require.NoError(t, err)

	assert.True(t, res.Recorded)
	assert.True(t, res.QuorumReached)
	assert.True(t, rewards.ValidCode(rewards.DefaultCodePrefix, res.Code), "code %q", res.Code)
	assert.Equal(t, approvedAt.AddDate(0, 0, 30), res.ExpiresAt)
	assert.Equal(t, int64(700), f.balance(t, "unit-1"))

	got := f.stored(t, r.ID)
	assert.Equal(t, rewards.StatusActive, got.Status())
	assert.Len(t, got.Approvals, 3)
	assert.Equal(t, res.Code, got.Code())

	assert.Equal(t, []rewards.EventType{
		rewards.EventCreated,
		rewards.EventApprovalRecorded,
		rewards.EventApprovalRecorded,
		rewards.EventApprovalRecorded,
		rewards.EventActivated,
	}, f.events.types())
}

func TestScenario_FourthApprovalIsNotPending(t *testing.T) {
	// GIVEN: An activated redemption
	// WHEN: A fourth animator approves
	// THEN: NotPending, balance unchanged
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 1000)
	r := f.request(t, "unit-1")
	f.approveN(t, r.ID, 3)

	_, err := f.svc.ApproveRedemption(f.ctx, r.ID, animator(4), "Animator")

	require.ErrorIs(t, err, rewards.ErrNotPending)
	assert.Equal(t, rewards.KindConflict, rewards.KindOf(err))
	assert.Equal(t, int64(700), f.balance(t, "unit-1"))
	assert.Len(t, f.stored(t, r.ID).Approvals, 3)
}

func TestScenario_RejectAfterOneApproval(t *testing.T) {
	// GIVEN: A pending redemption with one approval
	// WHEN: An animator rejects with a reason
	// THEN: Rejected with the reason, balance unchanged, later approvals fail
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 1000)
	r := f.request(t, "unit-1")
	f.approveN(t, r.ID, 1)

	rejected, err := f.svc.RejectRedemption(f.ctx, r.ID, animator(2), "budget frozen")
	require.NoError(t, err)

	state, ok := rejected.State.(rewards.Rejected)
	require.True(t, ok)
	assert.Equal(t, "budget frozen", state.Reason)
	assert.Equal(t, animator(2), state.RejectedBy)
	assert.Equal(t, int64(1000), f.balance(t, "unit-1"))

	_, err = f.svc.ApproveRedemption(f.ctx, r.ID, animator(3), "Animator")
	assert.ErrorIs(t, err, rewards.ErrAlreadyTerminal)
	assert.Len(t, f.stored(t, r.ID).Approvals, 1)
}

func TestScenario_PastExpiryReadsAsExpired(t *testing.T) {
	// GIVEN: An active redemption
	// WHEN: Reading it after ExpiresAt
	// THEN: Observed as expired everywhere, before any sweep
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 1000)
	r := f.request(t, "unit-1")
	f.approveN(t, r.ID, 3)

	f.clock.Advance(31 * 24 * time.Hour)

	history, err := f.svc.GetUnitRedemptions(f.ctx, "unit-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, rewards.StatusExpired, history[0].Status())

	one, err := f.svc.GetRedemption(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, rewards.StatusExpired, one.Status())
	assert.Equal(t, rewards.StatusActive, f.stored(t, r.ID).Status(), "stored state untouched by reads")

	_, err = f.svc.MarkRedemptionAsUsed(f.ctx, r.ID)
	assert.ErrorIs(t, err, rewards.ErrNotActive)
	assert.Equal(t, int64(700), f.balance(t, "unit-1"), "expiry never refunds")
}

// =============================================================================
// IDEMPOTENCE AND STATE-MACHINE LEGALITY
// =============================================================================

func TestApprove_SameAnimatorTwice(t *testing.T) {
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 1000)
	r := f.request(t, "unit-1")
	f.approveN(t, r.ID, 1)

	_, err := f.svc.ApproveRedemption(f.ctx, r.ID, animator(1), "Animator")

	require.ErrorIs(t, err, rewards.ErrAlreadyApproved)
	assert.Len(t, f.stored(t, r.ID).Approvals, 1)
}

func TestMarkUsed_IsIdempotent(t *testing.T) {
	// GIVEN: An active redemption marked used once
	// WHEN: Marking it used again later
	// THEN: Success, UsedAt unchanged
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 1000)
	r := f.request(t, "unit-1")
	f.approveN(t, r.ID, 3)

	first, err := f.svc.MarkRedemptionAsUsed(f.ctx, r.ID)
	require.NoError(t, err)
	used, ok := first.State.(rewards.Used)
	require.True(t, ok)

	f.clock.Advance(time.Hour)
	second, err := f.svc.MarkRedemptionAsUsed(f.ctx, r.ID)
	require.NoError(t, err)

	again, ok := second.State.(rewards.Used)
	require.True(t, ok)
	assert.Equal(t, used.UsedAt, again.UsedAt)

	n := 0
	for _, typ := range f.events.types() {
		if typ == rewards.EventUsed {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestStateMachine_IllegalTransitions(t *testing.T) {
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 2000)

	active := f.request(t, "unit-1")
	f.approveN(t, active.ID, 3)
	pending := f.request(t, "unit-1")

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"reject after active", func() error {
			_, err := f.svc.RejectRedemption(f.ctx, active.ID, animator(5), "too late")
			return err
		}, rewards.ErrAlreadyTerminal},
		{"approve after quorum", func() error {
			_, err := f.svc.ApproveRedemption(f.ctx, active.ID, animator(5), "Animator")
			return err
		}, rewards.ErrNotPending},
		{"mark used while pending", func() error {
			_, err := f.svc.MarkRedemptionAsUsed(f.ctx, pending.ID)
			return err
		}, rewards.ErrNotActive},
		{"reject without reason", func() error {
			_, err := f.svc.RejectRedemption(f.ctx, pending.ID, animator(1), "   ")
			return err
		}, rewards.ErrReasonRequired},
		{"approve unknown redemption", func() error {
			_, err := f.svc.ApproveRedemption(f.ctx, "missing", animator(1), "Animator")
			return err
		}, rewards.ErrRedemptionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), tt.want)
		})
	}
	assert.Equal(t, int64(1700), f.balance(t, "unit-1"))
}

func TestStateError_CarriesObservedStatus(t *testing.T) {
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 1000)
	r := f.request(t, "unit-1")
	_, err := f.svc.RejectRedemption(f.ctx, r.ID, animator(1), "no")
	require.NoError(t, err)

	_, err = f.svc.ApproveRedemption(f.ctx, r.ID, animator(2), "Animator")

	var se *rewards.StateError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, rewards.StatusRejected, se.Status)
	assert.Equal(t, "already_terminal", rewards.Code(err))
}

// =============================================================================
// REQUEST VALIDATION
// =============================================================================

func TestCreate_ValidationErrors(t *testing.T) {
	inactive := pizzaOffer()
	inactive.ID, inactive.IsActive = "offer-closed", false

	capped := pizzaOffer()
	capped.ID = "offer-capped"
	limit := 5
	capped.MaxRedemptions, capped.CurrentRedemptions = &limit, 5

	f := newFixture(t, pizzaOffer(), inactive, capped)
	f.earn(t, "unit-rich", "challenge-1", 1000)
	f.earn(t, "unit-poor", "challenge-1", 100)

	tests := []struct {
		name    string
		offerID string
		unitID  string
		want    error
		kind    rewards.Kind
	}{
		{"unknown offer", "offer-nope", "unit-rich", rewards.ErrOfferNotFound, rewards.KindNotFound},
		{"inactive offer", "offer-closed", "unit-rich", rewards.ErrOfferInactive, rewards.KindValidation},
		{"exhausted offer", "offer-capped", "unit-rich", rewards.ErrOfferExhausted, rewards.KindValidation},
		{"insufficient balance", "offer-pizza", "unit-poor", rewards.ErrInsufficientBalance, rewards.KindValidation},
		{"missing unit", "offer-pizza", "", rewards.ErrInvalidArgument, rewards.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateRedemption(f.ctx, tt.offerID, tt.unitID, "animator-lead")
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, rewards.KindOf(err))
		})
	}

	all, err := f.store.ListRedemptions(f.ctx, rewards.RedemptionFilter{})
	require.NoError(t, err)
	assert.Empty(t, all, "failed requests must not persist anything")
}

func TestCreate_RequestShortfallIsNotQuorumShortfall(t *testing.T) {
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 100)

	_, err := f.svc.CreateRedemption(f.ctx, "offer-pizza", "unit-1", "animator-lead")

	var be *rewards.BalanceError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, rewards.StageRequest, be.Stage)
	assert.Equal(t, int64(100), be.Available)
	assert.Equal(t, int64(300), be.Required)
	assert.NotErrorIs(t, err, rewards.ErrInsufficientBalanceAtQuorum)
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
}

func TestCreate_CapCountsActivatedRedemptions(t *testing.T) {
	// GIVEN: Offer capped at 1 lifetime redemption
	// WHEN: One redemption activates
	// THEN: New requests are refused, existing pending ones are unaffected
	offer := pizzaOffer()
	one := 1
	offer.MaxRedemptions = &one
	f := newFixture(t, offer)
	f.earn(t, "unit-1", "challenge-1", 1000)

	first := f.request(t, "unit-1")
	second := f.request(t, "unit-1")
	f.approveN(t, first.ID, 3)

	_, err := f.svc.CreateRedemption(f.ctx, "offer-pizza", "unit-1", "animator-lead")
	require.ErrorIs(t, err, rewards.ErrOfferExhausted)

	res := f.approveN(t, second.ID, 3)
	assert.True(t, res.QuorumReached)
}

func TestCreate_SnapshotsCostAndQuorum(t *testing.T) {
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 1000)
	r := f.request(t, "unit-1")

	pricier := pizzaOffer()
	pricier.PointsCost = 900
	pricier.ValidityDays = 7
	require.NoError(t, f.catalog.Put(pricier))

	res := f.approveN(t, r.ID, 3)
	assert.Equal(t, int64(300), res.Redemption.PointsSpent)
	assert.Equal(t, rewards.DefaultRequiredApprovals, res.Redemption.RequiredApprovals)
	assert.Equal(t, int64(700), f.balance(t, "unit-1"))
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 7), res.ExpiresAt, "validity is read at activation")
}

// =============================================================================
// QUORUM-TIME BALANCE AND STALLED QUORUM
// =============================================================================

func TestApprove_InsufficientBalanceAtQuorumKeepsVote(t *testing.T) {
	// GIVEN: Two redemptions of 300 on a unit with 300 points
	// WHEN: The first activates, then the deciding vote of the second
	// THEN: The second fails at quorum, its vote is kept, nothing debited
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 300)
	a := f.request(t, "unit-1")
	b := f.request(t, "unit-1")
	f.approveN(t, a.ID, 3)
	f.approveN(t, b.ID, 2)

	res, err := f.svc.ApproveRedemption(f.ctx, b.ID, animator(3), "Animator")

	require.ErrorIs(t, err, rewards.ErrInsufficientBalanceAtQuorum)
	assert.NotErrorIs(t, err, rewards.ErrInsufficientBalance)
	assert.Equal(t, rewards.KindConflict, rewards.KindOf(err))
	assert.True(t, res.Recorded)
	assert.False(t, res.QuorumReached)

	got := f.stored(t, b.ID)
	assert.Equal(t, rewards.StatusPendingApproval, got.Status())
	assert.Len(t, got.Approvals, 3)
	assert.True(t, got.QuorumStalled())
	assert.Empty(t, got.Code())
	assert.Equal(t, int64(0), f.balance(t, "unit-1"))
	assert.Contains(t, f.events.types(), rewards.EventActivationFailed)
}

func TestApprove_StalledQuorumRetriesWithoutNewVote(t *testing.T) {
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 300)
	a := f.request(t, "unit-1")
	b := f.request(t, "unit-1")
	f.approveN(t, a.ID, 3)
	f.approveN(t, b.ID, 2)
	_, err := f.svc.ApproveRedemption(f.ctx, b.ID, animator(3), "Animator")
	require.ErrorIs(t, err, rewards.ErrInsufficientBalanceAtQuorum)

	// Still short: nothing changes
	_, err = f.svc.ApproveRedemption(f.ctx, b.ID, animator(4), "Animator")
	require.ErrorIs(t, err, rewards.ErrInsufficientBalanceAtQuorum)
	assert.Len(t, f.stored(t, b.ID).Approvals, 3)

	// Scouts earn more; any animator can push the transition through
	f.earn(t, "unit-1", "challenge-2", 300)
	res, err := f.svc.ApproveRedemption(f.ctx, b.ID, animator(1), "Animator")
	require.NoError(t, err)

	assert.False(t, res.Recorded)
	assert.True(t, res.QuorumReached)
	assert.NotEmpty(t, res.Code)
	assert.Len(t, res.Redemption.Approvals, 3)
	assert.Equal(t, int64(0), f.balance(t, "unit-1"))
}

func TestReject_StalledQuorumCanBeClosed(t *testing.T) {
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 300)
	a := f.request(t, "unit-1")
	b := f.request(t, "unit-1")
	f.approveN(t, a.ID, 3)
	f.approveN(t, b.ID, 2)
	_, err := f.svc.ApproveRedemption(f.ctx, b.ID, animator(3), "Animator")
	require.Error(t, err)

	r, err := f.svc.RejectRedemption(f.ctx, b.ID, animator(1), "balance spent elsewhere")
	require.NoError(t, err)
	assert.Equal(t, rewards.StatusRejected, r.Status())
}

// =============================================================================
// CODES, EXPIRY SWEEP, LEDGER
// =============================================================================

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestCodes_CollisionAbortsActivation(t *testing.T) {
	// GIVEN: A random source that always yields the same code
	// WHEN: A second redemption reaches quorum
	// THEN: Code space exhausted, the whole deciding transaction rolls back
	f := newFixture(t)
	rewards.SetCodeSource(f.svc, zeroReader{})
	f.earn(t, "unit-1", "challenge-1", 1000)
	a := f.request(t, "unit-1")
	b := f.request(t, "unit-1")

	res := f.approveN(t, a.ID, 3)
	assert.Equal(t, "SCOUT-AAAAAA", res.Code)

	f.approveN(t, b.ID, 2)
	_, err := f.svc.ApproveRedemption(f.ctx, b.ID, animator(3), "Animator")

	require.ErrorIs(t, err, rewards.ErrCodeSpaceExhausted)
	assert.Equal(t, rewards.KindInvariant, rewards.KindOf(err))
	got := f.stored(t, b.ID)
	assert.Equal(t, rewards.StatusPendingApproval, got.Status())
	assert.Len(t, got.Approvals, 2, "deciding vote rolled back with the debit")
	assert.Equal(t, int64(700), f.balance(t, "unit-1"))
}

func TestCodes_UniqueAcrossActivations(t *testing.T) {
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 300*20)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		r := f.request(t, "unit-1")
		res := f.approveN(t, r.ID, 3)
		require.False(t, seen[res.Code], "duplicate code %s", res.Code)
		seen[res.Code] = true
	}
	assert.Equal(t, int64(0), f.balance(t, "unit-1"))
}

func TestCodeIssuer_GenerateShape(t *testing.T) {
	issuer := rewards.NewCodeIssuer("camp")
	for i := 0; i < 50; i++ {
		code, err := issuer.Generate()
		require.NoError(t, err)
		assert.True(t, rewards.ValidCode("CAMP", code), code)
	}
	assert.False(t, rewards.ValidCode("CAMP", "CAMP-ABC0EF"))
	assert.False(t, rewards.ValidCode("CAMP", "SCOUT-ABCDEF"))
}

func TestSweepExpired_PersistsExpiredState(t *testing.T) {
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 1000)
	a := f.request(t, "unit-1")
	b := f.request(t, "unit-1")
	c := f.request(t, "unit-1")
	f.approveN(t, a.ID, 3)
	f.approveN(t, b.ID, 3)
	f.approveN(t, c.ID, 3)
	_, err := f.svc.MarkRedemptionAsUsed(f.ctx, c.ID)
	require.NoError(t, err)

	n, err := f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing due yet")

	f.clock.Advance(30*24*time.Hour + time.Second)
	n, err = f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, rewards.StatusExpired, f.stored(t, a.ID).Status())
	assert.Equal(t, rewards.StatusExpired, f.stored(t, b.ID).Status())
	assert.Equal(t, rewards.StatusUsed, f.stored(t, c.ID).Status())

	n, err = f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(100), f.balance(t, "unit-1"))
}

func TestRecordEarned_IdempotentPerReference(t *testing.T) {
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 400)

	recorded, err := f.svc.RecordEarnedPoints(f.ctx, rewards.EarnedPoints{
		UnitID: "unit-1", Reference: "challenge-1", Points: 400,
	})
	require.NoError(t, err)
	assert.False(t, recorded)

	_, err = f.svc.RecordEarnedPoints(f.ctx, rewards.EarnedPoints{
		UnitID: "unit-1", Reference: "challenge-2", Points: 0,
	})
	assert.ErrorIs(t, err, rewards.ErrInvalidArgument)

	// Same reference on another unit is a different credit
	f.earn(t, "unit-2", "challenge-1", 50)
	assert.Equal(t, int64(400), f.balance(t, "unit-1"))
	assert.Equal(t, int64(50), f.balance(t, "unit-2"))
}

func TestSummary_ReportsPendingRequests(t *testing.T) {
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 1000)
	a := f.request(t, "unit-1")
	f.request(t, "unit-1")
	f.approveN(t, a.ID, 3)

	view, err := f.svc.GetUnitBalanceSummary(f.ctx, "unit-1")
	require.NoError(t, err)

	assert.Equal(t, rewards.BalanceView{
		UnitID:          "unit-1",
		Earned:          1000,
		Spent:           300,
		Available:       700,
		PendingRequests: 1,
		PendingPoints:   300,
	}, view)

	pending, err := f.svc.GetPendingRedemptions(f.ctx, "unit-1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestLedger_DebitRecordedOncePerRedemption(t *testing.T) {
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 1000)
	r := f.request(t, "unit-1")
	f.approveN(t, r.ID, 3)

	exists, err := f.store.Exists(f.ctx, rewards.DebitKey(r.ID))
	require.NoError(t, err)
	assert.True(t, exists)

	txs, err := f.store.Load(f.ctx, "unit-1")
	require.NoError(t, err)
	debits := 0
	for _, tx := range txs {
		if tx.Type == generic.TxDebit {
			debits++
			assert.Equal(t, r.ID, tx.ReferenceID)
		}
	}
	assert.Equal(t, 1, debits)
}
