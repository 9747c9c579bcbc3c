/*
errors.go - Redemption error taxonomy

ERROR CATEGORIES:
  1. Validation - reported immediately, nothing mutated
     ErrOfferNotFound, ErrOfferInactive, ErrOfferExhausted,
     ErrInsufficientBalance (at request), ErrInvalidArgument, ErrReasonRequired
  2. Conflict - expected under contention, actionable for the user
     ErrNotPending, ErrAlreadyApproved, ErrAlreadyTerminal, ErrNotActive,
     ErrInsufficientBalanceAtQuorum
  3. Invariant - programmer errors; the transaction is aborted
     ErrInvariantViolation, ErrCodeSpaceExhausted

KindOf classifies any error so the API can pick a status code without
matching individual sentinels.
*/
package rewards

import (
	"errors"
	"fmt"

	"github.com/troopkit/redemption-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrOfferNotFound       = errors.New("offer not found")
	ErrOfferInactive       = errors.New("offer is not active")
	ErrOfferExhausted      = errors.New("offer has reached its redemption limit")
	ErrInsufficientBalance = errors.New("unit balance is too low for this offer")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrReasonRequired      = errors.New("a rejection reason is required")
	ErrRedemptionNotFound  = errors.New("redemption not found")

	ErrNotPending                  = errors.New("redemption is no longer pending approval")
	ErrAlreadyApproved             = errors.New("animator already approved this redemption")
	ErrAlreadyTerminal             = errors.New("redemption is already in a terminal state")
	ErrNotActive                   = errors.New("redemption is not active")
	ErrInsufficientBalanceAtQuorum = errors.New("unit balance changed since the request; exchange not completed")

	ErrInvariantViolation = errors.New("redemption invariant violated")
	ErrCodeSpaceExhausted = errors.New("could not issue a unique redemption code")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// BalanceStage tells the two insufficient-balance checks apart.
type BalanceStage string

const (
	StageRequest BalanceStage = "request"
	StageQuorum  BalanceStage = "quorum"
)

// BalanceError reports a shortfall at request time or at the deciding vote.
type BalanceError struct {
	Stage     BalanceStage
	UnitID    string
	Available int64
	Required  int64
}

func (e *BalanceError) Error() string {
	if e.Stage == StageQuorum {
		return fmt.Sprintf("%s: unit %s has %d points, exchange needs %d",
			ErrInsufficientBalanceAtQuorum, e.UnitID, e.Available, e.Required)
	}
	return fmt.Sprintf("%s: unit %s has %d points, offer costs %d",
		ErrInsufficientBalance, e.UnitID, e.Available, e.Required)
}

func (e *BalanceError) Unwrap() []error {
	if e.Stage == StageQuorum {
		return []error{ErrInsufficientBalanceAtQuorum, generic.ErrInsufficientBalance}
	}
	return []error{ErrInsufficientBalance, generic.ErrInsufficientBalance}
}

// StateError reports an illegal transition.
type StateError struct {
	Op           string
	RedemptionID string
	Status       Status
	Err          error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %s: %v (status %s)", e.Op, e.RedemptionID, e.Err, e.Status)
}

func (e *StateError) Unwrap() error { return e.Err }

func stateErr(op string, r *Redemption, err error) error {
	return &StateError{Op: op, RedemptionID: r.ID, Status: r.Status(), Err: err}
}

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvariant:
		return "invariant"
	}
	return "internal"
}

// KindOf classifies err. Quorum-time shortfalls are conflicts, request-time
// shortfalls are validation errors.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvariantViolation), errors.Is(err, ErrCodeSpaceExhausted):
		return KindInvariant
	case errors.Is(err, ErrOfferNotFound), errors.Is(err, ErrRedemptionNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotPending),
		errors.Is(err, ErrAlreadyApproved),
		errors.Is(err, ErrAlreadyTerminal),
		errors.Is(err, ErrNotActive),
		errors.Is(err, ErrInsufficientBalanceAtQuorum),
		generic.IsRetryable(err):
		return KindConflict
	case errors.Is(err, ErrOfferInactive),
		errors.Is(err, ErrOfferExhausted),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrReasonRequired),
		generic.IsClientError(err):
		return KindValidation
	}
	return KindInternal
}

// Code returns a stable machine-readable name for err.
func Code(err error) string {
	for _, c := range []struct {
		err  error
		code string
	}{
		{ErrInsufficientBalanceAtQuorum, "insufficient_balance_at_quorum"},
		{ErrInsufficientBalance, "insufficient_balance"},
		{ErrOfferNotFound, "offer_not_found"},
		{ErrOfferInactive, "offer_inactive"},
		{ErrOfferExhausted, "offer_exhausted"},
		{ErrRedemptionNotFound, "redemption_not_found"},
		{ErrNotPending, "not_pending"},
		{ErrAlreadyApproved, "already_approved"},
		{ErrAlreadyTerminal, "already_terminal"},
		{ErrNotActive, "not_active"},
		{ErrReasonRequired, "reason_required"},
		{ErrInvalidArgument, "invalid_argument"},
		{ErrCodeSpaceExhausted, "code_space_exhausted"},
		{ErrInvariantViolation, "invariant_violation"},
		{generic.ErrConcurrentModification, "concurrent_modification"},
	} {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
