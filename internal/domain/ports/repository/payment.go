package repository

import (
	"context"
	"time"

	"aicode-billing/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

// DuplicateQuery identifies an equivalent submission within a time window.
type DuplicateQuery struct {
	UserID   string
	Amount   int64
	Currency string
	Method   model.PaymentMethod
	Since    time.Time
}

type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByExternalOrderID(ctx context.Context, tx Tx, externalOrderID string) (*model.Payment, error)
	// FindRecentDuplicate returns the newest pending/completed payment matching q, or ErrNotFound.
	FindRecentDuplicate(ctx context.Context, tx Tx, q DuplicateQuery) (*model.Payment, error)
	// MarkCompletedIfPending is the settlement idempotency guard: a single conditional update.
	// applied is false when the payment was not pending; the returned payment is then the current row.
	MarkCompletedIfPending(ctx context.Context, tx Tx, externalOrderID, transactionID string, completedAt time.Time) (p *model.Payment, applied bool, err error)
	// MarkTerminalIfPending moves pending -> failed|cancelled.
	MarkTerminalIfPending(ctx context.Context, tx Tx, externalOrderID string, status model.PaymentStatus) (applied bool, err error)
	SetEntitlementStatus(ctx context.Context, tx Tx, id string, status model.EntitlementStatus) error
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
	// ListUngrantedCompletedBefore returns completed payments whose entitlement was never recorded as granted.
	ListUngrantedCompletedBefore(ctx context.Context, tx Tx, completedBefore time.Time, limit int) ([]*model.Payment, error)
	SumCompletedSince(ctx context.Context, tx Tx, since time.Time) (int64, error)
}
