/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	units, earned points and redemptions in every lifecycle state. They go
	through rewards.Service, so events fire and invariants hold exactly as
	in production.

AVAILABLE SCENARIOS:

	first-exchange:  One unit, a pending request and an active code
	contention:      Two requests one vote from quorum, balance for one
	lifecycle:       Active, used, rejected and pending side by side
	offer-cap:       A capped offer filled to its limit

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Record earned points for each unit
 3. Request exchanges against the demo catalog
 4. Vote, reject or mark used as the scenario needs

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "contention"}

NOTE:

	Scenarios reset the store and expect the demo catalog
	(factory.DemoOffers). Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Error mapping
  - factory/presets.go: Demo offers
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/troopkit/redemption-engine/rewards"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "first-exchange",
		Name:        "First Exchange",
		Description: "Wolves pack with one pending pizza request and an active climbing code",
	},
	{
		ID:          "contention",
		Name:        "Quorum Contention",
		Description: "Eagles patrol has 400 points and two 300-point requests waiting for a third vote",
	},
	{
		ID:          "lifecycle",
		Name:        "Lifecycle",
		Description: "Foxes unit with active, used, rejected and pending redemptions",
	},
	{
		ID:          "offer-cap",
		Name:        "Offer Cap",
		Description: "Compass offer filled to its redemption limit; further requests are refused",
	},
}

var scenarioLoaders = map[string]func(context.Context, *Handler) error{
	"first-exchange": loadFirstExchangeScenario,
	"contention":     loadContentionScenario,
	"lifecycle":      loadLifecycleScenario,
	"offer-cap":      loadOfferCapScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	loader, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", "scenario_not_found",
			fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	if h.Resetter == nil {
		writeError(w, http.StatusConflict, "Store does not support scenarios", "reset_unsupported", nil)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID, loader); err != nil {
		h.writeServiceError(w, r, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

func (h *Handler) loadScenario(ctx context.Context, id string, loader func(context.Context, *Handler) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Resetter.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	h.currentScenario = ""
	if err := loader(ctx, h); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}
	h.currentScenario = id
	h.Logger.InfoContext(ctx, "scenario loaded", "scenario", id)
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadFirstExchangeScenario(ctx context.Context, h *Handler) error {
	const unit = "unit-wolves"
	if err := earn(ctx, h, unit, 400, 500, 300); err != nil {
		return err
	}

	pizza, err := h.Service.CreateRedemption(ctx, "pizza-20", unit, "leader-akela")
	if err != nil {
		return err
	}
	if _, err := h.Service.ApproveRedemption(ctx, pizza.ID, "anim-baloo", "Baloo"); err != nil {
		return err
	}

	climb, err := h.Service.CreateRedemption(ctx, "climbing-day", unit, "leader-akela")
	if err != nil {
		return err
	}
	return approveAll(ctx, h, climb)
}

func loadContentionScenario(ctx context.Context, h *Handler) error {
	const unit = "unit-eagles"
	if err := earn(ctx, h, unit, 400); err != nil {
		return err
	}
	for _, requester := range []string{"leader-hawk", "leader-kestrel"} {
		r, err := h.Service.CreateRedemption(ctx, "pizza-20", unit, requester)
		if err != nil {
			return err
		}
		for i := 1; i < r.RequiredApprovals; i++ {
			if _, err := h.Service.ApproveRedemption(ctx, r.ID, fmt.Sprintf("anim-%d", i), ""); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadLifecycleScenario(ctx context.Context, h *Handler) error {
	const unit = "unit-foxes"
	if err := earn(ctx, h, unit, 600, 600, 600); err != nil {
		return err
	}

	active, err := h.Service.CreateRedemption(ctx, "pizza-20", unit, "leader-vixen")
	if err != nil {
		return err
	}
	if err := approveAll(ctx, h, active); err != nil {
		return err
	}

	used, err := h.Service.CreateRedemption(ctx, "compass-kit", unit, "leader-vixen")
	if err != nil {
		return err
	}
	if err := approveAll(ctx, h, used); err != nil {
		return err
	}
	if _, err := h.Service.MarkRedemptionAsUsed(ctx, used.ID); err != nil {
		return err
	}

	rejected, err := h.Service.CreateRedemption(ctx, "climbing-day", unit, "leader-vixen")
	if err != nil {
		return err
	}
	if _, err := h.Service.RejectRedemption(ctx, rejected.ID, "anim-1", "Climbing trip is already planned for June"); err != nil {
		return err
	}

	_, err = h.Service.CreateRedemption(ctx, "climbing-day", unit, "leader-vixen")
	return err
}

func loadOfferCapScenario(ctx context.Context, h *Handler) error {
	const unit = "unit-owls"
	if err := earn(ctx, h, unit, 1000); err != nil {
		return err
	}
	offer, err := h.Service.GetOffer(ctx, "compass-kit")
	if err != nil {
		return err
	}
	if offer.MaxRedemptions == nil {
		return fmt.Errorf("%w: compass-kit is not capped", rewards.ErrInvalidArgument)
	}

	for i := offer.CurrentRedemptions; i < *offer.MaxRedemptions; i++ {
		r, err := h.Service.CreateRedemption(ctx, offer.ID, unit, "leader-hedwig")
		if err != nil {
			return err
		}
		if err := approveAll(ctx, h, r); err != nil {
			return err
		}
	}

	_, err = h.Service.CreateRedemption(ctx, offer.ID, unit, "leader-hedwig")
	if !errors.Is(err, rewards.ErrOfferExhausted) {
		return fmt.Errorf("expected the cap to refuse a new request, got %v", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func earn(ctx context.Context, h *Handler, unitID string, amounts ...int64) error {
	for i, pts := range amounts {
		_, err := h.Service.RecordEarnedPoints(ctx, rewards.EarnedPoints{
			UnitID:    unitID,
			Reference: fmt.Sprintf("activity-%d", i+1),
			Points:    pts,
			Reason:    "Weekend activity",
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func approveAll(ctx context.Context, h *Handler, r *rewards.Redemption) error {
	for i := len(r.Approvals); i < r.RequiredApprovals; i++ {
		id := fmt.Sprintf("anim-%d", i+1)
		if _, err := h.Service.ApproveRedemption(ctx, r.ID, id, ""); err != nil {
			return err
		}
	}
	return nil
}
