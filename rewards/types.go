/*
Package rewards implements partner-reward redemption for scout units.

PURPOSE:
  A unit accumulates points when its scouts complete challenges. Animators
  spend those points with external partners in exchange for discount codes.
  Spending is irreversible and draws on a shared balance, so a redemption
  needs a quorum of distinct animators before any points move.

LIFECYCLE:
  ┌──────────────────┐  approve x N   ┌────────┐  mark used  ┌──────┐
  │ pending_approval │ ─────────────▶ │ active │ ──────────▶ │ used │
  └──────────────────┘  (debit+code)  └────────┘             └──────┘
           │                               │
           │ reject                        │ expiresAt passed
           ▼                               ▼
      ┌──────────┐                    ┌─────────┐
      │ rejected │                    │ expired │
      └──────────┘                    └─────────┘

  The deciding vote, the ledger debit and the code issuance commit in one
  store transaction; no record is ever observed "approved but not active".

KEY COMPONENTS:
  PointsLedger:         balance + the single guarded debit (ledger.go)
  RequestService:       creates pending redemptions (request.go)
  ApprovalCoordinator:  quorum state machine (coordinator.go)
  CodeIssuer:           unique discount codes (code.go)
  Sweeper:              expiry + mark-used (expiry.go)
  Service:              facade exposed to the API and CLI (service.go)

SEE ALSO:
  - generic/: the append-only ledger engine underneath PointsLedger
  - store/: memory, SQLite and PostgreSQL implementations of Store
*/
package rewards

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultRequiredApprovals is the quorum captured on new redemptions.
const DefaultRequiredApprovals = 3

// =============================================================================
// OFFER - Partner offer, owned by the catalog
// =============================================================================

type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
	DiscountFreeItem    DiscountType = "free_item"
)

// Offer is read-only to this package.
type Offer struct {
	ID                 string
	PartnerID          string
	PartnerName        string
	Title              string
	PointsCost         int64
	DiscountType       DiscountType
	DiscountValue      decimal.Decimal
	ValidityDays       int
	MinPurchase        *decimal.Decimal
	MaxRedemptions     *int
	CurrentRedemptions int
	IsActive           bool
}

// Validate checks catalog data before it is served.
func (o Offer) Validate() error {
	switch {
	case o.ID == "":
		return fmt.Errorf("offer id is required")
	case o.PartnerID == "":
		return fmt.Errorf("offer %s: partner id is required", o.ID)
	case o.PointsCost <= 0:
		return fmt.Errorf("offer %s: points cost must be positive", o.ID)
	case o.ValidityDays <= 0:
		return fmt.Errorf("offer %s: validity days must be positive", o.ID)
	case o.MaxRedemptions != nil && *o.MaxRedemptions < 0:
		return fmt.Errorf("offer %s: max redemptions cannot be negative", o.ID)
	case o.CurrentRedemptions < 0:
		return fmt.Errorf("offer %s: current redemptions cannot be negative", o.ID)
	}
	switch o.DiscountType {
	case DiscountPercentage, DiscountFixedAmount, DiscountFreeItem:
	default:
		return fmt.Errorf("offer %s: unknown discount type %q", o.ID, o.DiscountType)
	}
	return nil
}

// =============================================================================
// REDEMPTION - Sum type over lifecycle states
// =============================================================================

type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusActive          Status = "active"
	StatusUsed            Status = "used"
	StatusExpired         Status = "expired"
	StatusRejected        Status = "rejected"
)

// ParseStatus maps a stored status string back to a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPendingApproval, StatusActive, StatusUsed, StatusExpired, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown redemption status %q", s)
}

// IsActivated reports whether points were debited for this status.
func (s Status) IsActivated() bool {
	return s == StatusActive || s == StatusUsed || s == StatusExpired
}

// Approval is one animator's vote.
type Approval struct {
	AnimatorID   string
	AnimatorName string
	ApprovedAt   time.Time
}

// Activation is created exactly once, by the deciding vote.
type Activation struct {
	Code        string
	ActivatedAt time.Time
	ExpiresAt   time.Time
}

// State is sealed: only the types below implement it.
type State interface {
	Status() Status
	isState()
}

type Pending struct{}

type Active struct {
	Activation Activation
}

type Used struct {
	Activation Activation
	UsedAt     time.Time
}

type Expired struct {
	Activation Activation
	ExpiredAt  time.Time
}

type Rejected struct {
	RejectedBy string
	Reason     string
	RejectedAt time.Time
}

func (Pending) Status() Status  { return StatusPendingApproval }
func (Active) Status() Status   { return StatusActive }
func (Used) Status() Status     { return StatusUsed }
func (Expired) Status() Status  { return StatusExpired }
func (Rejected) Status() Status { return StatusRejected }

func (Pending) isState()  {}
func (Active) isState()   {}
func (Used) isState()     {}
func (Expired) isState()  {}
func (Rejected) isState() {}

// Redemption is a request to exchange unit points for a partner code.
// Identity, cost and quorum are fixed at creation.
type Redemption struct {
	ID                string
	OfferID           string
	PartnerID         string
	UnitID            string
	RequestedBy       string
	PointsSpent       int64
	RequiredApprovals int
	ValidityDays      int
	CreatedAt         time.Time

	Approvals []Approval
	State     State

	// Version is managed by the store for optimistic concurrency.
	Version int64
}

func (r *Redemption) Status() Status {
	if r.State == nil {
		return StatusPendingApproval
	}
	return r.State.Status()
}

// Activation returns the activation payload for active, used and expired
// redemptions.
func (r *Redemption) Activation() (Activation, bool) {
	switch s := r.State.(type) {
	case Active:
		return s.Activation, true
	case Used:
		return s.Activation, true
	case Expired:
		return s.Activation, true
	}
	return Activation{}, false
}

func (r *Redemption) Code() string {
	a, _ := r.Activation()
	return a.Code
}

func (r *Redemption) HasApproved(animatorID string) bool {
	for _, a := range r.Approvals {
		if a.AnimatorID == animatorID {
			return true
		}
	}
	return false
}

// QuorumStalled reports a pending redemption that already holds every
// required vote because its deciding transition failed on balance.
func (r *Redemption) QuorumStalled() bool {
	return r.Status() == StatusPendingApproval && len(r.Approvals) >= r.RequiredApprovals
}

// EffectiveAt returns the redemption as observed at now: an active
// redemption whose expiry has passed reads as expired. The receiver is not
// modified.
func (r Redemption) EffectiveAt(now time.Time) Redemption {
	if s, ok := r.State.(Active); ok && s.Activation.ExpiresAt.Before(now) {
		r.State = Expired{Activation: s.Activation, ExpiredAt: s.Activation.ExpiresAt}
	}
	r.Approvals = append([]Approval(nil), r.Approvals...)
	return r
}

// Validate checks the record invariants. Stores call it before every write.
func (r *Redemption) Validate() error {
	if r.ID == "" || r.UnitID == "" || r.OfferID == "" {
		return invariantf("redemption %q: id, unit and offer are required", r.ID)
	}
	if r.PointsSpent <= 0 {
		return invariantf("redemption %s: points spent must be positive", r.ID)
	}
	if r.RequiredApprovals <= 0 {
		return invariantf("redemption %s: required approvals must be positive", r.ID)
	}
	if len(r.Approvals) > r.RequiredApprovals {
		return invariantf("redemption %s: %d approvals exceed quorum %d",
			r.ID, len(r.Approvals), r.RequiredApprovals)
	}
	seen := make(map[string]bool, len(r.Approvals))
	for _, a := range r.Approvals {
		if seen[a.AnimatorID] {
			return invariantf("redemption %s: animator %s approved twice", r.ID, a.AnimatorID)
		}
		seen[a.AnimatorID] = true
	}

	switch s := r.State.(type) {
	case nil, Pending:
	case Rejected:
		if s.Reason == "" || s.RejectedBy == "" {
			return invariantf("redemption %s: rejection needs author and reason", r.ID)
		}
	case Active, Used, Expired:
		a, _ := r.Activation()
		if len(r.Approvals) != r.RequiredApprovals {
			return invariantf("redemption %s: %s with %d of %d approvals",
				r.ID, s.Status(), len(r.Approvals), r.RequiredApprovals)
		}
		if a.Code == "" || a.ExpiresAt.IsZero() {
			return invariantf("redemption %s: %s without code or expiry", r.ID, s.Status())
		}
	default:
		return invariantf("redemption %s: unknown state %T", r.ID, s)
	}
	return nil
}

// =============================================================================
// BALANCE VIEW - What the unit sees
// =============================================================================

type BalanceView struct {
	UnitID          string
	Earned          int64
	Spent           int64
	Available       int64
	PendingRequests int
	PendingPoints   int64 // Sum of pending redemption costs; advisory only
}
