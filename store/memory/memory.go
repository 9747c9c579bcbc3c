/*
Package memory provides an in-memory rewards.Store for tests, demos and
the "memory" database driver.

ATOMICITY:
  One mutex guards the whole store. WithTx holds it for the duration of fn
  and restores a snapshot of the ledger, the redemptions and the code index
  when fn fails. Transactions are therefore fully serialized, and LockUnit
  has nothing left to do.

  Stored redemptions are private copies; callers never share memory with
  the store.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/troopkit/redemption-engine/generic"
	gstore "github.com/troopkit/redemption-engine/generic/store"
	"github.com/troopkit/redemption-engine/rewards"
)

type Store struct {
	mu          sync.Mutex
	ledger      *gstore.Memory
	redemptions map[string]*rewards.Redemption
	codes       map[string]string // code -> redemption id
}

var _ rewards.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		ledger:      gstore.NewMemory(),
		redemptions: make(map[string]*rewards.Redemption),
		codes:       make(map[string]string),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(rewards.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ledgerSnap := s.ledger.Snapshot()
	redemptions := make(map[string]*rewards.Redemption, len(s.redemptions))
	for k, v := range s.redemptions {
		redemptions[k] = v
	}
	codes := make(map[string]string, len(s.codes))
	for k, v := range s.codes {
		codes[k] = v
	}

	if err := fn(&txView{s: s}); err != nil {
		s.ledger.Restore(ledgerSnap)
		s.redemptions = redemptions
		s.codes = codes
		return err
	}
	return nil
}

// txView runs operations while WithTx holds the lock.
type txView struct {
	s *Store
}

func (v *txView) Append(ctx context.Context, tx generic.Transaction) error {
	return v.s.ledger.Append(ctx, tx)
}
func (v *txView) Load(ctx context.Context, id generic.EntityID) ([]generic.Transaction, error) {
	return v.s.ledger.Load(ctx, id)
}
func (v *txView) Exists(ctx context.Context, key string) (bool, error) {
	return v.s.ledger.Exists(ctx, key)
}
func (v *txView) GetRedemption(_ context.Context, id string) (*rewards.Redemption, error) {
	return v.s.getLocked(id)
}
func (v *txView) InsertRedemption(_ context.Context, r *rewards.Redemption) error {
	return v.s.insertLocked(r)
}
func (v *txView) UpdateRedemption(_ context.Context, r *rewards.Redemption) error {
	return v.s.updateLocked(r)
}
func (v *txView) ListRedemptions(_ context.Context, f rewards.RedemptionFilter) ([]rewards.Redemption, error) {
	return v.s.listLocked(f), nil
}
func (v *txView) CodeExists(_ context.Context, code string) (bool, error) {
	_, ok := v.s.codes[code]
	return ok, nil
}
func (v *txView) LockUnit(context.Context, string) error { return nil }

// =============================================================================
// NON-TRANSACTIONAL ACCESS
// =============================================================================

func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Append(ctx, tx)
}

func (s *Store) Load(ctx context.Context, id generic.EntityID) ([]generic.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Load(ctx, id)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Exists(ctx, key)
}

func (s *Store) GetRedemption(_ context.Context, id string) (*rewards.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Store) InsertRedemption(_ context.Context, r *rewards.Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(r)
}

func (s *Store) UpdateRedemption(_ context.Context, r *rewards.Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(r)
}

func (s *Store) ListRedemptions(_ context.Context, f rewards.RedemptionFilter) ([]rewards.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(f), nil
}

func (s *Store) CodeExists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.codes[code]
	return ok, nil
}

func (s *Store) LockUnit(context.Context, string) error { return nil }

// Units returns every unit with ledger activity.
func (s *Store) Units(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.ledger.Entities() {
		out = append(out, string(id))
	}
	sort.Strings(out)
	return out, nil
}

// Reset drops everything (for demo scenarios).
func (s *Store) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = gstore.NewMemory()
	s.redemptions = make(map[string]*rewards.Redemption)
	s.codes = make(map[string]string)
	return nil
}

// =============================================================================
// LOCKED HELPERS
// =============================================================================

func (s *Store) getLocked(id string) (*rewards.Redemption, error) {
	r, ok := s.redemptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rewards.ErrRedemptionNotFound, id)
	}
	return clone(r), nil
}

func (s *Store) insertLocked(r *rewards.Redemption) error {
	if _, ok := s.redemptions[r.ID]; ok {
		return fmt.Errorf("%w: redemption %s already exists", rewards.ErrInvariantViolation, r.ID)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.claimCode(r); err != nil {
		return err
	}
	r.Version = 1
	s.redemptions[r.ID] = clone(r)
	return nil
}

func (s *Store) updateLocked(r *rewards.Redemption) error {
	cur, ok := s.redemptions[r.ID]
	if !ok {
		return fmt.Errorf("%w: %s", rewards.ErrRedemptionNotFound, r.ID)
	}
	if cur.Version != r.Version {
		return fmt.Errorf("%w: redemption %s version %d, have %d",
			generic.ErrConcurrentModification, r.ID, cur.Version, r.Version)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.claimCode(r); err != nil {
		return err
	}
	r.Version++
	s.redemptions[r.ID] = clone(r)
	return nil
}

func (s *Store) claimCode(r *rewards.Redemption) error {
	code := r.Code()
	if code == "" {
		return nil
	}
	if owner, ok := s.codes[code]; ok && owner != r.ID {
		return fmt.Errorf("%w: code %s already issued to %s", rewards.ErrInvariantViolation, code, owner)
	}
	s.codes[code] = r.ID
	return nil
}

func (s *Store) listLocked(f rewards.RedemptionFilter) []rewards.Redemption {
	out := make([]rewards.Redemption, 0)
	for _, r := range s.redemptions {
		if rewards.MatchesFilter(r, f) {
			out = append(out, *clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func clone(r *rewards.Redemption) *rewards.Redemption {
	c := *r
	c.Approvals = append([]rewards.Approval(nil), r.Approvals...)
	return &c
}
