package rewards

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/troopkit/redemption-engine/generic"
)

// =============================================================================
// SERVICE - Operations exposed to the API, the CLI and notification layers
// =============================================================================

// Options configure a Service. Zero values select the defaults.
type Options struct {
	RequiredApprovals int
	CodePrefix        string
	Clock             generic.Clock
	Notifier          Notifier
	Logger            *slog.Logger
}

type Service struct {
	store   Store
	catalog OfferCatalog
	clock   generic.Clock
	logger  *slog.Logger

	Ledger      *PointsLedger
	Requests    *RequestService
	Coordinator *ApprovalCoordinator
	Sweeper     *Sweeper
}

func NewService(store Store, catalog OfferCatalog, opts Options) *Service {
	if opts.RequiredApprovals <= 0 {
		opts.RequiredApprovals = DefaultRequiredApprovals
	}
	if opts.Clock == nil {
		opts.Clock = generic.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	events := newDispatcher(opts.Notifier, opts.Logger)
	ledger := NewPointsLedger(store, opts.Clock)

	return &Service{
		store:   store,
		catalog: catalog,
		clock:   opts.Clock,
		logger:  opts.Logger,
		Ledger:  ledger,
		Requests: &RequestService{
			store:             store,
			catalog:           catalog,
			ledger:            ledger,
			clock:             opts.Clock,
			requiredApprovals: opts.RequiredApprovals,
			events:            events,
		},
		Coordinator: &ApprovalCoordinator{
			store:   store,
			catalog: catalog,
			ledger:  ledger,
			codes:   NewCodeIssuer(opts.CodePrefix),
			clock:   opts.Clock,
			events:  events,
		},
		Sweeper: &Sweeper{
			store:  store,
			clock:  opts.Clock,
			events: events,
			logger: opts.Logger,
		},
	}
}

func (s *Service) CreateRedemption(ctx context.Context, offerID, unitID, requesterID string) (*Redemption, error) {
	r, err := s.Requests.Create(ctx, offerID, unitID, requesterID)
	if err != nil {
		s.logger.InfoContext(ctx, "redemption request refused",
			"offer_id", offerID, "unit_id", unitID, "code", Code(err), "error", err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "redemption requested",
		"redemption_id", r.ID, "offer_id", offerID, "unit_id", unitID, "points", r.PointsSpent)
	return r, nil
}

func (s *Service) ApproveRedemption(ctx context.Context, redemptionID, animatorID, animatorName string) (ApprovalResult, error) {
	res, err := s.Coordinator.Approve(ctx, redemptionID, animatorID, animatorName)
	switch {
	case err != nil:
		s.logFailure(ctx, "approve", redemptionID, err)
	case res.QuorumReached:
		s.logger.InfoContext(ctx, "redemption activated",
			"redemption_id", redemptionID, "animator_id", animatorID, "expires_at", res.ExpiresAt)
	default:
		s.logger.InfoContext(ctx, "approval recorded",
			"redemption_id", redemptionID, "animator_id", animatorID,
			"approvals", len(res.Redemption.Approvals), "required", res.Redemption.RequiredApprovals)
	}
	return res, err
}

func (s *Service) RejectRedemption(ctx context.Context, redemptionID, animatorID, reason string) (*Redemption, error) {
	r, err := s.Coordinator.Reject(ctx, redemptionID, animatorID, reason)
	if err != nil {
		s.logFailure(ctx, "reject", redemptionID, err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "redemption rejected", "redemption_id", redemptionID, "animator_id", animatorID)
	return r, nil
}

func (s *Service) MarkRedemptionAsUsed(ctx context.Context, redemptionID string) (*Redemption, error) {
	r, err := s.Sweeper.MarkUsed(ctx, redemptionID)
	if err != nil {
		s.logFailure(ctx, "mark used", redemptionID, err)
		return nil, err
	}
	return r, nil
}

// GetPendingRedemptions lists the unit's redemptions awaiting votes.
func (s *Service) GetPendingRedemptions(ctx context.Context, unitID string) ([]Redemption, error) {
	return s.list(ctx, RedemptionFilter{UnitID: unitID, Statuses: []Status{StatusPendingApproval}})
}

// GetUnitRedemptions is the unit's full history, newest first, as observed
// now: active codes past their expiry read as expired.
func (s *Service) GetUnitRedemptions(ctx context.Context, unitID string) ([]Redemption, error) {
	return s.list(ctx, RedemptionFilter{UnitID: unitID})
}

func (s *Service) GetUnitPointsBalance(ctx context.Context, unitID string) (int64, error) {
	if unitID == "" {
		return 0, fmt.Errorf("%w: unit is required", ErrInvalidArgument)
	}
	return s.Ledger.Balance(ctx, unitID)
}

func (s *Service) GetUnitBalanceSummary(ctx context.Context, unitID string) (BalanceView, error) {
	if unitID == "" {
		return BalanceView{}, fmt.Errorf("%w: unit is required", ErrInvalidArgument)
	}
	return s.Ledger.Summary(ctx, unitID)
}

func (s *Service) GetRedemption(ctx context.Context, redemptionID string) (*Redemption, error) {
	r, err := s.store.GetRedemption(ctx, redemptionID)
	if err != nil {
		return nil, err
	}
	view := r.EffectiveAt(s.clock.Now())
	return &view, nil
}

func (s *Service) RecordEarnedPoints(ctx context.Context, e EarnedPoints) (bool, error) {
	recorded, err := s.Ledger.RecordEarned(ctx, e)
	if err != nil {
		return false, err
	}
	if recorded {
		s.logger.InfoContext(ctx, "points earned",
			"unit_id", e.UnitID, "reference", e.Reference, "points", e.Points)
	}
	return recorded, nil
}

func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	return s.Sweeper.SweepExpired(ctx)
}

func (s *Service) ListOffers(ctx context.Context) ([]Offer, error) {
	return s.catalog.ListOffers(ctx)
}

func (s *Service) GetOffer(ctx context.Context, offerID string) (Offer, error) {
	return s.catalog.GetOffer(ctx, offerID)
}

func (s *Service) list(ctx context.Context, f RedemptionFilter) ([]Redemption, error) {
	if f.UnitID == "" {
		return nil, fmt.Errorf("%w: unit is required", ErrInvalidArgument)
	}
	rs, err := s.store.ListRedemptions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	now := s.clock.Now()
	out := make([]Redemption, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.EffectiveAt(now))
	}
	return out, nil
}

func (s *Service) logFailure(ctx context.Context, op, redemptionID string, err error) {
	level := slog.LevelInfo
	switch KindOf(err) {
	case KindInvariant, KindInternal:
		level = slog.LevelError
	case KindConflict:
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, op+" failed",
		"redemption_id", redemptionID, "code", Code(err), "error", err)
}
