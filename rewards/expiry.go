/*
expiry.go - Post-activation transitions

PURPOSE:
  An active redemption ends either when the partner redeems its code
  (MarkUsed) or when its validity period passes (expiry).

EXPIRY IS ENFORCED TWICE:
  1. Lazily: every read goes through Redemption.EffectiveAt(now), so no
     caller ever observes an active code past its ExpiresAt.
  2. Eagerly: SweepExpired persists the expired state, so storage-level
     queries agree with what readers see. api.ExpirationScheduler runs it
     periodically.

  Expiry never refunds points.
*/
package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/troopkit/redemption-engine/generic"
)

const sweepConcurrency = 4

type Sweeper struct {
	store  Store
	clock  generic.Clock
	events dispatcher
	logger *slog.Logger
}

// MarkUsed records that the partner redeemed the code. Marking a used
// redemption again succeeds without changing UsedAt.
func (s *Sweeper) MarkUsed(ctx context.Context, redemptionID string) (*Redemption, error) {
	if redemptionID == "" {
		return nil, fmt.Errorf("%w: redemption is required", ErrInvalidArgument)
	}

	var changed bool
	r, err := withRetry(ctx, func() (*Redemption, error) {
		changed = false
		var out *Redemption
		err := s.store.WithTx(ctx, func(tx Tx) error {
			r, err := tx.GetRedemption(ctx, redemptionID)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			view := r.EffectiveAt(now)
			switch st := view.State.(type) {
			case Used:
				out = &view
				return nil
			case Active:
				r.State = Used{Activation: st.Activation, UsedAt: now}
			default:
				return stateErr("mark used", &view, ErrNotActive)
			}
			if err := tx.UpdateRedemption(ctx, r); err != nil {
				return err
			}
			out, changed = r, true
			return nil
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.events.emit(ctx, newEvent(EventUsed, r, "", s.clock.Now()))
	}
	return r, nil
}

// SweepExpired persists the expired state of every active redemption past
// its ExpiresAt and returns how many it transitioned.
func (s *Sweeper) SweepExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.store.ListRedemptions(ctx, RedemptionFilter{
		Statuses:      []Status{StatusActive},
		ExpiresBefore: &now,
	})
	if err != nil {
		return 0, fmt.Errorf("list expired redemptions: %w", err)
	}

	var expired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, r := range due {
		id := r.ID
		g.Go(func() error {
			done, err := s.expire(gctx, id)
			if err != nil {
				return fmt.Errorf("expire %s: %w", id, err)
			}
			if done {
				expired.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	n := int(expired.Load())
	if n > 0 {
		s.logger.InfoContext(ctx, "expired redemptions swept", "count", n)
	}
	return n, err
}

// expire transitions one redemption. A redemption used or swept
// concurrently is skipped.
func (s *Sweeper) expire(ctx context.Context, id string) (bool, error) {
	r, err := withRetry(ctx, func() (*Redemption, error) {
		var out *Redemption
		err := s.store.WithTx(ctx, func(tx Tx) error {
			r, err := tx.GetRedemption(ctx, id)
			if err != nil {
				return err
			}
			view := r.EffectiveAt(s.clock.Now())
			if _, ok := view.State.(Expired); !ok || r.Status() != StatusActive {
				return nil
			}
			if err := tx.UpdateRedemption(ctx, &view); err != nil {
				return err
			}
			out = &view
			return nil
		})
		return out, err
	})
	if err != nil || r == nil {
		return false, err
	}
	s.events.emit(ctx, newEvent(EventExpired, r, "", s.clock.Now()))
	return true, nil
}
