/*
Package generic provides the append-only points ledger engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for tracking
  a spendable balance per entity. Units of a scout troop earn points when
  their scouts complete challenges, and spend them when a partner offer is
  redeemed; the engine does not know about either. It only records signed
  deltas and replays them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 300 points)
  - Transaction: An immutable ledger entry recording a balance change
  - EntityID: The owner of a balance (a scout unit)

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified
  2. Precision: Uses decimal.Decimal so amounts never drift
  3. Type Safety: Strong typing for IDs prevents mixing entity/transaction IDs
  4. Auditability: Every transaction has reason, reference, and idempotency key

USAGE:
  tx := generic.Transaction{
      EntityID: "unit-12",
      Delta:    generic.NewAmountFromInt(150, generic.UnitPoints),
      Type:     generic.TxEarned,
  }

SEE ALSO:
  - ledger.go: Balance calculation from transactions
  - store.go: Transaction persistence interface
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitPoints Unit = "points"
)

func NewAmountFromInt(value int64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(value), Unit: unit}
}

func Points(value int64) Amount {
	return NewAmountFromInt(value, UnitPoints)
}

func (a Amount) Add(b Amount) Amount    { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount    { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Neg() Amount            { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) LessThan(b Amount) bool { return a.Value.LessThan(b.Value) }

// Int returns the whole part of the amount. Points are always whole.
func (a Amount) Int() int64 { return a.Value.IntPart() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type TransactionID string

// =============================================================================
// TRANSACTION - Atomic change to an entity balance
// =============================================================================

type TransactionType string

const (
	TxEarned TransactionType = "earned" // Points credited by the points source (challenge completed)
	TxDebit  TransactionType = "debit"  // Points spent by an activated redemption
)

type Transaction struct {
	ID             TransactionID
	EntityID       EntityID
	EffectiveAt    time.Time
	Delta          Amount
	Type           TransactionType
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	// Audit fields
	CreatedBy string
	CreatedAt time.Time
}

// =============================================================================
// BALANCE SNAPSHOT - Computed state at a point in time
// =============================================================================

type BalanceSnapshot struct {
	EntityID    EntityID
	Balance     Amount
	TotalEarned Amount
	TotalSpent  Amount // Positive: sum of debits
}
