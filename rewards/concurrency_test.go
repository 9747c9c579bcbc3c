package rewards_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/troopkit/redemption-engine/rewards"
)

// =============================================================================
// CONCURRENT DECIDING VOTES
// =============================================================================

func TestConcurrency_TwoRedemptionsRaceForOneBalance(t *testing.T) {
	// GIVEN: A unit whose balance equals exactly one offer cost, and two
	//        redemptions each one vote away from quorum
	// WHEN: Both deciding votes are cast at the same time
	// THEN: Exactly one activates, the other fails at quorum, balance is 0
	for round := 0; round < 25; round++ {
		t.Run(fmt.Sprintf("round-%d", round), func(t *testing.T) {
			f := newFixture(t)
			f.earn(t, "unit-1", "challenge-1", 300)
			a := f.request(t, "unit-1")
			b := f.request(t, "unit-1")
			f.approveN(t, a.ID, 2)
			f.approveN(t, b.ID, 2)

			var (
				wg       sync.WaitGroup
				startGun = make(chan struct{})
				errs     = make([]error, 2)
				results  = make([]rewards.ApprovalResult, 2)
			)
			for i, id := range []string{a.ID, b.ID} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-startGun
					results[i], errs[i] = f.svc.ApproveRedemption(f.ctx, id, animator(3), "Animator")
				}()
			}
			close(startGun)
			wg.Wait()

			activated, failed := 0, 0
			for i := range errs {
				switch {
				case errs[i] == nil:
					require.True(t, results[i].QuorumReached)
					activated++
				case errors.Is(errs[i], rewards.ErrInsufficientBalanceAtQuorum):
					failed++
				default:
					t.Fatalf("unexpected error: %v", errs[i])
				}
			}
			assert.Equal(t, 1, activated)
			assert.Equal(t, 1, failed)
			assert.Equal(t, int64(0), f.balance(t, "unit-1"))
		})
	}
}

func TestConcurrency_ManyAnimatorsOneRedemption(t *testing.T) {
	// GIVEN: A pending redemption
	// WHEN: Eight animators approve concurrently
	// THEN: Exactly three votes land, one call activates, the rest see
	//       NotPending; points are debited once
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 1000)
	r := f.request(t, "unit-1")

	const animators = 8
	var (
		mu        sync.Mutex
		recorded  int
		activated int
		rejected  int
	)
	var g errgroup.Group
	for i := 1; i <= animators; i++ {
		g.Go(func() error {
			res, err := f.svc.ApproveRedemption(f.ctx, r.ID, animator(i), "Animator")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				recorded++
				if res.QuorumReached {
					activated++
				}
				return nil
			case errors.Is(err, rewards.ErrNotPending):
				rejected++
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 3, recorded)
	assert.Equal(t, 1, activated)
	assert.Equal(t, animators-3, rejected)

	got := f.stored(t, r.ID)
	assert.Equal(t, rewards.StatusActive, got.Status())
	assert.Len(t, got.Approvals, 3)
	require.NoError(t, got.Validate())
	assert.Equal(t, int64(700), f.balance(t, "unit-1"))
}

func TestConcurrency_SpentNeverExceedsEarned(t *testing.T) {
	// GIVEN: A unit with 1000 points and six pending 300-point redemptions
	// WHEN: All of them are pushed to quorum concurrently
	// THEN: At most three activate and the balance never goes negative
	f := newFixture(t)
	f.earn(t, "unit-1", "challenge-1", 1000)

	ids := make([]string, 6)
	for i := range ids {
		ids[i] = f.request(t, "unit-1").ID
		f.approveN(t, ids[i], 2)
	}

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			_, err := f.svc.ApproveRedemption(f.ctx, id, animator(3), "Animator")
			if err != nil && !errors.Is(err, rewards.ErrInsufficientBalanceAtQuorum) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	history, err := f.svc.GetUnitRedemptions(f.ctx, "unit-1")
	require.NoError(t, err)
	var spent int64
	for _, r := range history {
		require.NoError(t, r.Validate())
		if r.Status().IsActivated() {
			spent += r.PointsSpent
		}
	}
	assert.Equal(t, int64(900), spent)
	assert.Equal(t, int64(100), f.balance(t, "unit-1"))
}
