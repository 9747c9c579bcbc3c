package rewards

import (
	"context"
	"log/slog"
	"time"
)

// =============================================================================
// EVENTS - Emitted after the corresponding transaction commits
// =============================================================================

type EventType string

const (
	EventCreated          EventType = "redemption.created"
	EventApprovalRecorded EventType = "redemption.approval_recorded"
	EventActivated        EventType = "redemption.activated"
	EventActivationFailed EventType = "redemption.activation_failed"
	EventRejected         EventType = "redemption.rejected"
	EventUsed             EventType = "redemption.used"
	EventExpired          EventType = "redemption.expired"
)

type Event struct {
	Type              EventType  `json:"type"`
	RedemptionID      string     `json:"redemption_id"`
	UnitID            string     `json:"unit_id"`
	OfferID           string     `json:"offer_id"`
	PartnerID         string     `json:"partner_id"`
	Actor             string     `json:"actor,omitempty"`
	Status            Status     `json:"status"`
	Approvals         int        `json:"approvals"`
	RequiredApprovals int        `json:"required_approvals"`
	Code              string     `json:"code,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	Reason            string     `json:"reason,omitempty"`
	At                time.Time  `json:"at"`
}

// Notifier delivers events to animators and partners. Delivery failures
// never undo a committed transition.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

func newEvent(t EventType, r *Redemption, actor string, at time.Time) Event {
	ev := Event{
		Type:              t,
		RedemptionID:      r.ID,
		UnitID:            r.UnitID,
		OfferID:           r.OfferID,
		PartnerID:         r.PartnerID,
		Actor:             actor,
		Status:            r.Status(),
		Approvals:         len(r.Approvals),
		RequiredApprovals: r.RequiredApprovals,
		At:                at,
	}
	if a, ok := r.Activation(); ok {
		ev.Code = a.Code
		expires := a.ExpiresAt
		ev.ExpiresAt = &expires
	}
	if rej, ok := r.State.(Rejected); ok {
		ev.Reason = rej.Reason
	}
	return ev
}

// dispatcher sends events and logs delivery failures.
type dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
}

func newDispatcher(n Notifier, logger *slog.Logger) dispatcher {
	if n == nil {
		n = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return dispatcher{notifier: n, logger: logger}
}

func (d dispatcher) emit(ctx context.Context, ev Event) {
	if err := d.notifier.Notify(ctx, ev); err != nil {
		d.logger.WarnContext(ctx, "notification failed",
			"event", ev.Type,
			"redemption_id", ev.RedemptionID,
			"error", err,
		)
	}
}
