/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the rewards domain model from the external API contract: the sealed
  redemption state is flattened into nullable fields, and money values are
  rendered as decimal strings.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Offers:       OfferDTO
  Balance:      BalanceDTO, RecordPointsRequest, RecordPointsResponse
  Redemptions:  RedemptionDTO, ApprovalDTO, CreateRedemptionRequest,
                ApproveRequest, ApproveResponse, RejectRequest
  Admin:        SweepResponse
  Scenarios:    ScenarioDTO, LoadScenarioRequest
  Errors:       ErrorResponse

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/troopkit/redemption-engine/rewards"
)

// =============================================================================
// OFFERS
// =============================================================================

type OfferDTO struct {
	ID                 string  `json:"id"`
	PartnerID          string  `json:"partner_id"`
	PartnerName        string  `json:"partner_name,omitempty"`
	Title              string  `json:"title"`
	PointsCost         int64   `json:"points_cost"`
	DiscountType       string  `json:"discount_type"`
	DiscountValue      string  `json:"discount_value"`
	ValidityDays       int     `json:"validity_days"`
	MinPurchase        *string `json:"min_purchase,omitempty"`
	MaxRedemptions     *int    `json:"max_redemptions,omitempty"`
	CurrentRedemptions int     `json:"current_redemptions"`
	IsActive           bool    `json:"is_active"`
}

func toOfferDTO(o rewards.Offer) OfferDTO {
	dto := OfferDTO{
		ID:                 o.ID,
		PartnerID:          o.PartnerID,
		PartnerName:        o.PartnerName,
		Title:              o.Title,
		PointsCost:         o.PointsCost,
		DiscountType:       string(o.DiscountType),
		DiscountValue:      o.DiscountValue.String(),
		ValidityDays:       o.ValidityDays,
		MaxRedemptions:     o.MaxRedemptions,
		CurrentRedemptions: o.CurrentRedemptions,
		IsActive:           o.IsActive,
	}
	if o.MinPurchase != nil {
		dto.MinPurchase = strPtr(o.MinPurchase.String())
	}
	return dto
}

// =============================================================================
// BALANCE
// =============================================================================

type BalanceDTO struct {
	UnitID          string `json:"unit_id"`
	Earned          int64  `json:"earned"`
	Spent           int64  `json:"spent"`
	Available       int64  `json:"available"`
	PendingRequests int    `json:"pending_requests"`
	PendingPoints   int64  `json:"pending_points"`
}

func toBalanceDTO(b rewards.BalanceView) BalanceDTO {
	return BalanceDTO{
		UnitID:          b.UnitID,
		Earned:          b.Earned,
		Spent:           b.Spent,
		Available:       b.Available,
		PendingRequests: b.PendingRequests,
		PendingPoints:   b.PendingPoints,
	}
}

// RecordPointsRequest credits points earned by a unit. Reference makes the
// call idempotent: the same reference is credited once.
type RecordPointsRequest struct {
	ScoutID   string `json:"scout_id,omitempty"`
	Reference string `json:"reference"`
	Points    int64  `json:"points"`
	Reason    string `json:"reason,omitempty"`
}

type RecordPointsResponse struct {
	Recorded bool  `json:"recorded"`
	Balance  int64 `json:"balance"`
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

type ApprovalDTO struct {
	AnimatorID   string `json:"animator_id"`
	AnimatorName string `json:"animator_name,omitempty"`
	ApprovedAt   string `json:"approved_at"`
}

type RedemptionDTO struct {
	ID                string        `json:"id"`
	OfferID           string        `json:"offer_id"`
	PartnerID         string        `json:"partner_id"`
	UnitID            string        `json:"unit_id"`
	RequestedBy       string        `json:"requested_by"`
	PointsSpent       int64         `json:"points_spent"`
	Status            string        `json:"status"`
	RequiredApprovals int           `json:"required_approvals"`
	Approvals         []ApprovalDTO `json:"approvals"`
	CreatedAt         string        `json:"created_at"`

	Code            *string `json:"code,omitempty"`
	ActivatedAt     *string `json:"activated_at,omitempty"`
	ExpiresAt       *string `json:"expires_at,omitempty"`
	UsedAt          *string `json:"used_at,omitempty"`
	ExpiredAt       *string `json:"expired_at,omitempty"`
	RejectedBy      *string `json:"rejected_by,omitempty"`
	RejectedAt      *string `json:"rejected_at,omitempty"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
}

func toRedemptionDTO(r *rewards.Redemption) RedemptionDTO {
	dto := RedemptionDTO{
		ID:                r.ID,
		OfferID:           r.OfferID,
		PartnerID:         r.PartnerID,
		UnitID:            r.UnitID,
		RequestedBy:       r.RequestedBy,
		PointsSpent:       r.PointsSpent,
		Status:            string(r.Status()),
		RequiredApprovals: r.RequiredApprovals,
		Approvals:         make([]ApprovalDTO, len(r.Approvals)),
		CreatedAt:         formatTime(r.CreatedAt),
	}
	for i, a := range r.Approvals {
		dto.Approvals[i] = ApprovalDTO{
			AnimatorID:   a.AnimatorID,
			AnimatorName: a.AnimatorName,
			ApprovedAt:   formatTime(a.ApprovedAt),
		}
	}

	if a, ok := r.Activation(); ok {
		dto.Code = strPtr(a.Code)
		dto.ActivatedAt = timePtr(a.ActivatedAt)
		dto.ExpiresAt = timePtr(a.ExpiresAt)
	}
	switch s := r.State.(type) {
	case rewards.Used:
		dto.UsedAt = timePtr(s.UsedAt)
	case rewards.Expired:
		dto.ExpiredAt = timePtr(s.ExpiredAt)
	case rewards.Rejected:
		dto.RejectedBy = strPtr(s.RejectedBy)
		dto.RejectedAt = timePtr(s.RejectedAt)
		dto.RejectionReason = strPtr(s.Reason)
	}
	return dto
}

func toRedemptionDTOs(rs []rewards.Redemption) []RedemptionDTO {
	dtos := make([]RedemptionDTO, len(rs))
	for i := range rs {
		dtos[i] = toRedemptionDTO(&rs[i])
	}
	return dtos
}

type CreateRedemptionRequest struct {
	OfferID     string `json:"offer_id"`
	RequestedBy string `json:"requested_by"`
}

type ApproveRequest struct {
	AnimatorID   string `json:"animator_id"`
	AnimatorName string `json:"animator_name,omitempty"`
}

// ApproveResponse reports what a vote did. Code and ExpiresAt are set only
// when this vote completed the quorum.
type ApproveResponse struct {
	Recorded      bool          `json:"recorded"`
	QuorumReached bool          `json:"quorum_reached"`
	Code          *string       `json:"code,omitempty"`
	ExpiresAt     *string       `json:"expires_at,omitempty"`
	Redemption    RedemptionDTO `json:"redemption"`
}

type RejectRequest struct {
	AnimatorID string `json:"animator_id"`
	Reason     string `json:"reason"`
}

// =============================================================================
// ADMIN & SCENARIOS
// =============================================================================

type SweepResponse struct {
	Expired int `json:"expired"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func timePtr(t time.Time) *string {
	s := formatTime(t)
	return &s
}

func strPtr(s string) *string {
	return &s
}
