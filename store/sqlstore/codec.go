/*
Package sqlstore holds the pieces shared by the SQL-backed stores: the
migration runner and the mapping between rewards.Redemption and its row.

ROW LAYOUT:
  The redemption sum type is flattened into nullable columns. Which columns
  are set depends on status:

    status            code  activated_at  expires_at  used_at  expired_at  rejected_*
    pending_approval   -        -             -          -         -           -
    active             ✓        ✓             ✓          -         -           -
    used               ✓        ✓             ✓          ✓         -           -
    expired            ✓        ✓             ✓          -         ✓           -
    rejected           -        -             -          -         -           ✓

  Approvals live in their own table, keyed by (redemption_id, animator_id),
  so a duplicate vote is a primary key violation.

SEE ALSO:
  - store/sqlite, store/postgres
*/
package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/troopkit/redemption-engine/generic"
	"github.com/troopkit/redemption-engine/rewards"
)

// StateColumns is the flattened rewards.State.
type StateColumns struct {
	Status      string
	Code        sql.NullString
	ActivatedAt sql.NullTime
	ExpiresAt   sql.NullTime
	UsedAt      sql.NullTime
	ExpiredAt   sql.NullTime
	RejectedBy  sql.NullString
	Reason      sql.NullString
	RejectedAt  sql.NullTime
}

func EncodeState(r *rewards.Redemption) StateColumns {
	c := StateColumns{Status: string(r.Status())}
	if a, ok := r.Activation(); ok {
		c.Code = NullString(a.Code)
		c.ActivatedAt = NullTime(a.ActivatedAt)
		c.ExpiresAt = NullTime(a.ExpiresAt)
	}
	switch s := r.State.(type) {
	case rewards.Used:
		c.UsedAt = NullTime(s.UsedAt)
	case rewards.Expired:
		c.ExpiredAt = NullTime(s.ExpiredAt)
	case rewards.Rejected:
		c.RejectedBy = NullString(s.RejectedBy)
		c.Reason = NullString(s.Reason)
		c.RejectedAt = NullTime(s.RejectedAt)
	}
	return c
}

func DecodeState(c StateColumns) (rewards.State, error) {
	status, err := rewards.ParseStatus(c.Status)
	if err != nil {
		return nil, err
	}
	activation := rewards.Activation{
		Code:        c.Code.String,
		ActivatedAt: UTC(c.ActivatedAt),
		ExpiresAt:   UTC(c.ExpiresAt),
	}
	switch status {
	case rewards.StatusPendingApproval:
		return rewards.Pending{}, nil
	case rewards.StatusActive:
		return rewards.Active{Activation: activation}, nil
	case rewards.StatusUsed:
		return rewards.Used{Activation: activation, UsedAt: UTC(c.UsedAt)}, nil
	case rewards.StatusExpired:
		return rewards.Expired{Activation: activation, ExpiredAt: UTC(c.ExpiredAt)}, nil
	case rewards.StatusRejected:
		return rewards.Rejected{
			RejectedBy: c.RejectedBy.String,
			Reason:     c.Reason.String,
			RejectedAt: UTC(c.RejectedAt),
		}, nil
	}
	return nil, fmt.Errorf("unhandled status %s", status)
}

// =============================================================================
// LEDGER ROWS
// =============================================================================

// TransactionRow carries the scanned columns of a ledger transaction.
type TransactionRow struct {
	ID             string
	EntityID       string
	EffectiveAt    time.Time
	DeltaValue     string
	DeltaUnit      string
	Type           string
	ReferenceID    sql.NullString
	Reason         sql.NullString
	IdempotencyKey sql.NullString
	MetadataJSON   sql.NullString
	CreatedBy      sql.NullString
	CreatedAt      time.Time
}

func (row TransactionRow) Transaction() (generic.Transaction, error) {
	delta, err := decimal.NewFromString(row.DeltaValue)
	if err != nil {
		return generic.Transaction{}, fmt.Errorf("decode delta of %s: %w", row.ID, err)
	}
	tx := generic.Transaction{
		ID:          generic.TransactionID(row.ID),
		EntityID:    generic.EntityID(row.EntityID),
		EffectiveAt: row.EffectiveAt.UTC(),
		Delta: generic.Amount{
			Value: delta,
			Unit:  generic.Unit(row.DeltaUnit),
		},
		Type:           generic.TransactionType(row.Type),
		ReferenceID:    row.ReferenceID.String,
		Reason:         row.Reason.String,
		IdempotencyKey: row.IdempotencyKey.String,
		CreatedBy:      row.CreatedBy.String,
		CreatedAt:      row.CreatedAt.UTC(),
	}
	if row.MetadataJSON.Valid && row.MetadataJSON.String != "" {
		if err := json.Unmarshal([]byte(row.MetadataJSON.String), &tx.Metadata); err != nil {
			return tx, fmt.Errorf("decode metadata of %s: %w", row.ID, err)
		}
	}
	return tx, nil
}

// MetadataJSON encodes transaction metadata; empty metadata is NULL.
func MetadataJSON(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// =============================================================================
// NULL HELPERS
// =============================================================================

func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func NullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// UTC normalizes a scanned time; drivers may attach a fixed zone.
func UTC(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}
