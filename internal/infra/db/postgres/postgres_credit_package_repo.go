package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"aicode-billing/internal/domain"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/repository"
)

var _ repository.CreditPackageRepository = (*creditPackageRepo)(nil)

const creditPackageCols = `id, user_id, package_id, payment_id, credits_total, credits_remaining, status, expiry_date, created_at`

type creditPackageRepo struct{ pool *pgxpool.Pool }

func NewCreditPackageRepo(pool *pgxpool.Pool) *creditPackageRepo {
	return &creditPackageRepo{pool: pool}
}

// Create inserts a grant; the unique payment_id turns a second grant into ErrAlreadyExists.
func (r *creditPackageRepo) Create(ctx context.Context, tx repository.Tx, cp *model.CreditPackage) error {
	const q = `INSERT INTO credit_packages (` + creditPackageCols + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	_, err := execSQL(ctx, r.pool, tx, q, cp.ID, cp.UserID, cp.PackageID, cp.PaymentID, cp.CreditsTotal, cp.CreditsRemaining, string(cp.Status), cp.ExpiryDate, cp.CreatedAt)
	return mapErr(err)
}

func scanCreditPackage(row scanner) (*model.CreditPackage, error) {
	var (
		cp     model.CreditPackage
		status string
	)
	if err := row.Scan(&cp.ID, &cp.UserID, &cp.PackageID, &cp.PaymentID, &cp.CreditsTotal, &cp.CreditsRemaining, &status, &cp.ExpiryDate, &cp.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	cp.Status = model.CreditPackageStatus(status)
	return &cp, nil
}

func (r *creditPackageRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.CreditPackage, error) {
	const q = `SELECT ` + creditPackageCols + ` FROM credit_packages WHERE payment_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, paymentID)
	if err != nil {
		return nil, err
	}
	return scanCreditPackage(row)
}

func (r *creditPackageRepo) ListActiveByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.CreditPackage, error) {
	const q = `
SELECT ` + creditPackageCols + `
  FROM credit_packages
 WHERE user_id=$1 AND status='active' AND expiry_date > NOW()
 ORDER BY expiry_date ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.CreditPackage
	for rows.Next() {
		cp, err := scanCreditPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (r *creditPackageRepo) ExpireEnded(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	const q = `UPDATE credit_packages SET status='expired' WHERE status='active' AND expiry_date < $1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(cmd.RowsAffected()), nil
}
