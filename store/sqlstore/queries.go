package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/troopkit/redemption-engine/generic"
	"github.com/troopkit/redemption-engine/rewards"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect captures what differs between SQL backends.
type Dialect struct {
	// Rebind rewrites "?" placeholders into the backend's syntax.
	Rebind func(query string) string

	// ForUpdate is appended to row reads inside a transaction.
	ForUpdate string

	// UniqueViolation reports the violated constraint of a unique error.
	UniqueViolation func(err error) (constraint string, ok bool)
}

// Queries implements the rewards.Tx operations over any Querier.
type Queries struct {
	d Dialect
}

func NewQueries(d Dialect) Queries {
	if d.Rebind == nil {
		d.Rebind = func(q string) string { return q }
	}
	return Queries{d: d}
}

// =============================================================================
// LEDGER
// =============================================================================

const transactionColumns = `id, entity_id, effective_at, delta_value, delta_unit, tx_type,
	reference_id, reason, idempotency_key, metadata_json, created_by, created_at`

func (q Queries) Append(ctx context.Context, db Querier, tx generic.Transaction) error {
	metadata, err := MetadataJSON(tx.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = tx.EffectiveAt
	}

	_, err = db.ExecContext(ctx, q.d.Rebind(`
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(tx.ID),
		string(tx.EntityID),
		tx.EffectiveAt.UTC(),
		tx.Delta.Value.String(),
		string(tx.Delta.Unit),
		string(tx.Type),
		NullString(tx.ReferenceID),
		NullString(tx.Reason),
		NullString(tx.IdempotencyKey),
		metadata,
		NullString(tx.CreatedBy),
		createdAt.UTC(),
	)
	if err != nil {
		if c, ok := q.d.UniqueViolation(err); ok && strings.Contains(c, "idempotency_key") {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (q Queries) Load(ctx context.Context, db Querier, entityID generic.EntityID) ([]generic.Transaction, error) {
	rows, err := db.QueryContext(ctx, q.d.Rebind(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE entity_id = ?
		ORDER BY effective_at ASC, seq ASC`), string(entityID))
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txs []generic.Transaction
	for rows.Next() {
		var row TransactionRow
		if err := rows.Scan(
			&row.ID, &row.EntityID, &row.EffectiveAt, &row.DeltaValue, &row.DeltaUnit, &row.Type,
			&row.ReferenceID, &row.Reason, &row.IdempotencyKey, &row.MetadataJSON, &row.CreatedBy, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx, err := row.Transaction()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (q Queries) Exists(ctx context.Context, db Querier, idempotencyKey string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, q.d.Rebind(
		`SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?`), idempotencyKey).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check idempotency key: %w", err)
	}
	return count > 0, nil
}

// Units lists every unit with ledger activity.
func (q Queries) Units(ctx context.Context, db Querier) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT entity_id FROM transactions ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

const redemptionColumns = `id, offer_id, partner_id, unit_id, requested_by, points_spent,
	required_approvals, validity_days, created_at, status, code, activated_at, expires_at,
	used_at, expired_at, rejected_by, rejection_reason, rejected_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRedemption(s rowScanner) (*rewards.Redemption, error) {
	var (
		r rewards.Redemption
		c StateColumns
	)
	err := s.Scan(
		&r.ID, &r.OfferID, &r.PartnerID, &r.UnitID, &r.RequestedBy, &r.PointsSpent,
		&r.RequiredApprovals, &r.ValidityDays, &r.CreatedAt, &c.Status, &c.Code, &c.ActivatedAt, &c.ExpiresAt,
		&c.UsedAt, &c.ExpiredAt, &c.RejectedBy, &c.Reason, &c.RejectedAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	if r.State, err = DecodeState(c); err != nil {
		return nil, fmt.Errorf("redemption %s: %w", r.ID, err)
	}
	return &r, nil
}

// GetRedemption loads a redemption; lock adds the dialect's row lock.
func (q Queries) GetRedemption(ctx context.Context, db Querier, id string, lock bool) (*rewards.Redemption, error) {
	query := `SELECT ` + redemptionColumns + ` FROM redemptions WHERE id = ?`
	if lock {
		query += " " + q.d.ForUpdate
	}
	r, err := scanRedemption(db.QueryRowContext(ctx, q.d.Rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", rewards.ErrRedemptionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get redemption %s: %w", id, err)
	}
	if r.Approvals, err = q.approvals(ctx, db, r.ID); err != nil {
		return nil, err
	}
	return r, nil
}

func (q Queries) approvals(ctx context.Context, db Querier, redemptionID string) ([]rewards.Approval, error) {
	rows, err := db.QueryContext(ctx, q.d.Rebind(`
		SELECT animator_id, animator_name, approved_at
		FROM redemption_approvals
		WHERE redemption_id = ?
		ORDER BY position ASC`), redemptionID)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var out []rewards.Approval
	for rows.Next() {
		var a rewards.Approval
		if err := rows.Scan(&a.AnimatorID, &a.AnimatorName, &a.ApprovedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		a.ApprovedAt = a.ApprovedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q Queries) InsertRedemption(ctx context.Context, db Querier, r *rewards.Redemption) error {
	if err := r.Validate(); err != nil {
		return err
	}
	c := EncodeState(r)
	_, err := db.ExecContext(ctx, q.d.Rebind(`
		INSERT INTO redemptions (`+redemptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`),
		r.ID, r.OfferID, r.PartnerID, r.UnitID, r.RequestedBy, r.PointsSpent,
		r.RequiredApprovals, r.ValidityDays, r.CreatedAt.UTC(), c.Status, c.Code, c.ActivatedAt, c.ExpiresAt,
		c.UsedAt, c.ExpiredAt, c.RejectedBy, c.Reason, c.RejectedAt,
	)
	if err != nil {
		return q.writeError(r, err)
	}
	if err := q.insertApprovals(ctx, db, r); err != nil {
		return err
	}
	r.Version = 1
	return nil
}

// UpdateRedemption writes state and new approvals if the stored version
// still equals r.Version.
func (q Queries) UpdateRedemption(ctx context.Context, db Querier, r *rewards.Redemption) error {
	if err := r.Validate(); err != nil {
		return err
	}
	c := EncodeState(r)
	res, err := db.ExecContext(ctx, q.d.Rebind(`
		UPDATE redemptions SET
			status = ?, code = ?, activated_at = ?, expires_at = ?, used_at = ?,
			expired_at = ?, rejected_by = ?, rejection_reason = ?, rejected_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`),
		c.Status, c.Code, c.ActivatedAt, c.ExpiresAt, c.UsedAt,
		c.ExpiredAt, c.RejectedBy, c.Reason, c.RejectedAt,
		r.ID, r.Version,
	)
	if err != nil {
		return q.writeError(r, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update redemption %s: %w", r.ID, err)
	}
	if n == 0 {
		if _, err := q.GetRedemption(ctx, db, r.ID, false); err != nil {
			return err
		}
		return fmt.Errorf("%w: redemption %s at version %d", generic.ErrConcurrentModification, r.ID, r.Version)
	}
	if err := q.insertApprovals(ctx, db, r); err != nil {
		return err
	}
	r.Version++
	return nil
}

// insertApprovals appends votes not yet stored. Votes are never removed.
func (q Queries) insertApprovals(ctx context.Context, db Querier, r *rewards.Redemption) error {
	for i, a := range r.Approvals {
		_, err := db.ExecContext(ctx, q.d.Rebind(`
			INSERT INTO redemption_approvals (redemption_id, animator_id, animator_name, approved_at, position)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (redemption_id, animator_id) DO NOTHING`),
			r.ID, a.AnimatorID, a.AnimatorName, a.ApprovedAt.UTC(), i,
		)
		if err != nil {
			return fmt.Errorf("insert approval of %s: %w", a.AnimatorID, err)
		}
	}
	return nil
}

func (q Queries) writeError(r *rewards.Redemption, err error) error {
	if c, ok := q.d.UniqueViolation(err); ok {
		if strings.Contains(c, "code") {
			return fmt.Errorf("%w: code %s issued twice", rewards.ErrInvariantViolation, r.Code())
		}
		return fmt.Errorf("%w: redemption %s: %s", rewards.ErrInvariantViolation, r.ID, c)
	}
	return fmt.Errorf("write redemption %s: %w", r.ID, err)
}

func (q Queries) ListRedemptions(ctx context.Context, db Querier, f rewards.RedemptionFilter) ([]rewards.Redemption, error) {
	var (
		where []string
		args  []any
	)
	if f.UnitID != "" {
		where = append(where, "unit_id = ?")
		args = append(args, f.UnitID)
	}
	if f.OfferID != "" {
		where = append(where, "offer_id = ?")
		args = append(args, f.OfferID)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.ExpiresBefore != nil {
		where = append(where, "expires_at IS NOT NULL AND expires_at < ?")
		args = append(args, f.ExpiresBefore.UTC())
	}

	query := `SELECT ` + redemptionColumns + ` FROM redemptions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := db.QueryContext(ctx, q.d.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	var out []rewards.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		out = append(out, *r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	// Approvals are read after the cursor is closed; a single-connection
	// pool cannot serve a second query while rows are open.
	for i := range out {
		if out[i].Approvals, err = q.approvals(ctx, db, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (q Queries) CodeExists(ctx context.Context, db Querier, code string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, q.d.Rebind(
		`SELECT COUNT(*) FROM redemptions WHERE code = ?`), code).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check code: %w", err)
	}
	return count > 0, nil
}

// DollarRebind converts "?" placeholders to "$1", "$2", ...
func DollarRebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
