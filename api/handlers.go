/*
handlers.go - HTTP API handlers for the redemption ledger

PURPOSE:
  Exposes rewards.Service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the service. Handlers never touch
  the store directly.

ENDPOINTS:
  Offers:
    GET    /api/offers                        List the catalog
    GET    /api/offers/{id}                   Get one offer

  Units:
    GET    /api/units/{id}/balance            Balance summary
    POST   /api/units/{id}/points             Record earned points
    GET    /api/units/{id}/redemptions        History, newest first
    GET    /api/units/{id}/redemptions/pending
    POST   /api/units/{id}/redemptions        Request an exchange

  Redemptions:
    GET    /api/redemptions/{id}
    POST   /api/redemptions/{id}/approve      Animator vote
    POST   /api/redemptions/{id}/reject       Animator veto, reason required
    POST   /api/redemptions/{id}/use          Partner marks the code used

  Admin:
    POST   /api/admin/sweep                   Expire overdue codes now

ERROR HANDLING:
  Errors are returned as {"error", "code", "details"} with a status picked
  by rewards.KindOf:
  - 400: Malformed JSON body
  - 422: Validation errors (offer inactive, balance too low, bad input)
  - 404: Offer or redemption not found
  - 409: Conflicts (already approved, not pending, balance changed at quorum)
  - 500: Invariant violations and internal errors

SECURITY NOTE:
  Caller identities (requested_by, animator_id) are taken from the body.
  Authentication belongs in front of this service.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/troopkit/redemption-engine/rewards"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter is implemented by stores that can be wiped for demo scenarios.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *rewards.Service
	Logger  *slog.Logger

	// Optional; scenarios are refused without it.
	Resetter Resetter

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around svc.
func NewHandler(svc *rewards.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Logger: logger}
}

// =============================================================================
// OFFER HANDLERS
// =============================================================================

// ListOffers returns the catalog, active and inactive offers alike.
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.Service.ListOffers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to list offers", err)
		return
	}
	dtos := make([]OfferDTO, len(offers))
	for i, o := range offers {
		dtos[i] = toOfferDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := h.Service.GetOffer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get offer", err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferDTO(offer))
}

// =============================================================================
// UNIT HANDLERS
// =============================================================================

// GetBalance returns the unit's balance summary.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.GetUnitBalanceSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(view))
}

// RecordPoints credits earned points. Replaying a reference returns 200
// with recorded=false; a new credit returns 201.
func (h *Handler) RecordPoints(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "id")
	var req RecordPointsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	recorded, err := h.Service.RecordEarnedPoints(r.Context(), rewards.EarnedPoints{
		UnitID:    unitID,
		ScoutID:   req.ScoutID,
		Reference: req.Reference,
		Points:    req.Points,
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to record points", err)
		return
	}
	balance, err := h.Service.GetUnitPointsBalance(r.Context(), unitID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get balance", err)
		return
	}

	status := http.StatusOK
	if recorded {
		status = http.StatusCreated
	}
	writeJSON(w, status, RecordPointsResponse{Recorded: recorded, Balance: balance})
}

func (h *Handler) ListUnitRedemptions(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Service.GetUnitRedemptions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list redemptions", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTOs(rs))
}

func (h *Handler) ListPendingRedemptions(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Service.GetPendingRedemptions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list pending redemptions", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTOs(rs))
}

// CreateRedemption requests an exchange for the unit in the URL.
func (h *Handler) CreateRedemption(w http.ResponseWriter, r *http.Request) {
	var req CreateRedemptionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	red, err := h.Service.CreateRedemption(r.Context(), req.OfferID, chi.URLParam(r, "id"), req.RequestedBy)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create redemption", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRedemptionDTO(red))
}

// =============================================================================
// REDEMPTION HANDLERS
// =============================================================================

func (h *Handler) GetRedemption(w http.ResponseWriter, r *http.Request) {
	red, err := h.Service.GetRedemption(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get redemption", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(red))
}

// ApproveRedemption records an animator vote. When the vote was kept but
// activation failed on balance, the response is 409 and the vote stands.
func (h *Handler) ApproveRedemption(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.Service.ApproveRedemption(r.Context(), chi.URLParam(r, "id"), req.AnimatorID, req.AnimatorName)
	if err != nil {
		h.writeServiceError(w, r, "Failed to approve redemption", err)
		return
	}

	resp := ApproveResponse{
		Recorded:      res.Recorded,
		QuorumReached: res.QuorumReached,
		Redemption:    toRedemptionDTO(res.Redemption),
	}
	if res.QuorumReached {
		resp.Code = strPtr(res.Code)
		resp.ExpiresAt = timePtr(res.ExpiresAt)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) RejectRedemption(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	red, err := h.Service.RejectRedemption(r.Context(), chi.URLParam(r, "id"), req.AnimatorID, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "Failed to reject redemption", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(red))
}

// MarkUsed is called by the partner when the code is presented. Marking an
// already used code again returns the same record.
func (h *Handler) MarkUsed(w http.ResponseWriter, r *http.Request) {
	red, err := h.Service.MarkRedemptionAsUsed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to mark redemption as used", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(red))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep expires overdue active codes immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.SweepExpired(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Expired: n})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch rewards.KindOf(err) {
	case rewards.KindValidation:
		return http.StatusUnprocessableEntity
	case rewards.KindNotFound:
		return http.StatusNotFound
	case rewards.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), message, "path", r.URL.Path, "error", err)
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	writeError(w, status, message, rewards.Code(err), err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_body", err)
		return false
	}
	return true
}
