package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"aicode-billing/internal/domain"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

const paymentCols = `id, user_id, amount, currency, method, external_order_id, transaction_id, status, description, metadata, entitlement_status, created_at, updated_at, completed_at`

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

func scanPayment(row scanner) (*model.Payment, error) {
	var (
		p      model.Payment
		method string
		status string
		ent    string
		meta   []byte
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Amount, &p.Currency, &method, &p.ExternalOrderID, &p.TransactionID, &status, &p.Description, &meta, &ent, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	p.Method = model.PaymentMethod(method)
	p.Status = model.PaymentStatus(status)
	p.EntitlementStatus = model.EntitlementStatus(ent)
	if len(meta) > 0 {
		dec := json.NewDecoder(bytes.NewReader(meta))
		dec.UseNumber()
		if err := dec.Decode(&p.Metadata); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &p, nil
}

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO payments (` + paymentCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
  description=$9, metadata=$10, entitlement_status=$11, updated_at=$13;`

	_, err = execSQL(ctx, r.pool, tx, q,
		p.ID, p.UserID, p.Amount, p.Currency, string(p.Method), p.ExternalOrderID, p.TransactionID,
		string(p.Status), p.Description, string(meta), string(p.EntitlementStatus), p.CreatedAt, p.UpdatedAt, p.CompletedAt)
	return mapErr(err)
}

func (r *paymentRepo) findOne(ctx context.Context, tx repository.Tx, where string, arg interface{}) (*model.Payment, error) {
	q := `SELECT ` + paymentCols + ` FROM payments WHERE ` + where
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	return r.findOne(ctx, tx, "id=$1", id)
}

func (r *paymentRepo) FindByExternalOrderID(ctx context.Context, tx repository.Tx, externalOrderID string) (*model.Payment, error) {
	return r.findOne(ctx, tx, "external_order_id=$1", externalOrderID)
}

func (r *paymentRepo) FindRecentDuplicate(ctx context.Context, tx repository.Tx, dq repository.DuplicateQuery) (*model.Payment, error) {
	const q = `
SELECT ` + paymentCols + `
  FROM payments
 WHERE user_id=$1 AND amount=$2 AND currency=$3 AND method=$4
   AND status IN ('pending','completed')
   AND created_at >= $5
 ORDER BY created_at DESC
 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, dq.UserID, dq.Amount, dq.Currency, string(dq.Method), dq.Since)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

// MarkCompletedIfPending is a single conditional update; concurrent callers race
// on the row and exactly one sees applied=true.
func (r *paymentRepo) MarkCompletedIfPending(ctx context.Context, tx repository.Tx, externalOrderID, transactionID string, completedAt time.Time) (*model.Payment, bool, error) {
	const q = `
UPDATE payments
   SET status='completed', transaction_id=$2, completed_at=$3, updated_at=$3
 WHERE external_order_id=$1 AND status='pending'
RETURNING ` + paymentCols + `;`
	row, err := pickRow(ctx, r.pool, tx, q, externalOrderID, transactionID, completedAt)
	if err != nil {
		return nil, false, err
	}
	p, err := scanPayment(row)
	switch {
	case err == nil:
		return p, true, nil
	case errors.Is(err, domain.ErrNotFound):
		cur, err := r.FindByExternalOrderID(ctx, tx, externalOrderID)
		if err != nil {
			return nil, false, err
		}
		return cur, false, nil
	default:
		return nil, false, err
	}
}

func (r *paymentRepo) MarkTerminalIfPending(ctx context.Context, tx repository.Tx, externalOrderID string, status model.PaymentStatus) (bool, error) {
	if status != model.PaymentStatusFailed && status != model.PaymentStatusCancelled {
		return false, domain.ErrInvalidTransition
	}
	const q = `
UPDATE payments
   SET status=$2, updated_at=NOW()
 WHERE external_order_id=$1 AND status='pending';`
	cmd, err := execSQL(ctx, r.pool, tx, q, externalOrderID, string(status))
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *paymentRepo) SetEntitlementStatus(ctx context.Context, tx repository.Tx, id string, status model.EntitlementStatus) error {
	const q = `UPDATE payments SET entitlement_status=$2, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(status))
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	const q = `SELECT ` + paymentCols + ` FROM payments WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, limit)
}

func (r *paymentRepo) ListUngrantedCompletedBefore(ctx context.Context, tx repository.Tx, completedBefore time.Time, limit int) ([]*model.Payment, error) {
	const q = `
SELECT ` + paymentCols + `
  FROM payments
 WHERE status='completed' AND entitlement_status <> 'granted' AND completed_at < $1
 ORDER BY completed_at ASC
 LIMIT $2;`
	return r.list(ctx, tx, q, completedBefore, limit)
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, q string, before time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := queryRows(ctx, r.pool, tx, q, before, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (r *paymentRepo) SumCompletedSince(ctx context.Context, tx repository.Tx, since time.Time) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount),0)::BIGINT FROM payments WHERE status='completed' AND completed_at >= $1;`
	row, err := pickRow(ctx, r.pool, tx, q, since)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}
