package repository

import (
	"context"
	"time"

	"aicode-billing/internal/domain/model"
)

// SubscriptionRepository is the port for user subscriptions.
type SubscriptionRepository interface {
	// LockUser serializes grants for one user until tx ends.
	LockUser(ctx context.Context, tx Tx, userID string) error
	Save(ctx context.Context, tx Tx, sub *model.Subscription) error
	// FindActiveByUserAndPlan returns the latest-ending active row, or ErrNotFound.
	FindActiveByUserAndPlan(ctx context.Context, tx Tx, userID, planType string) (*model.Subscription, error)
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.Subscription, error)
	// ExpireEnded flips active rows whose end is before now; returns the count.
	ExpireEnded(ctx context.Context, tx Tx, now time.Time) (int, error)
}

// CreditPackageRepository is the port for credit grants.
type CreditPackageRepository interface {
	// Create fails with ErrAlreadyExists when a grant for the same payment exists.
	Create(ctx context.Context, tx Tx, cp *model.CreditPackage) error
	FindByPaymentID(ctx context.Context, tx Tx, paymentID string) (*model.CreditPackage, error)
	ListActiveByUser(ctx context.Context, tx Tx, userID string) ([]*model.CreditPackage, error)
	ExpireEnded(ctx context.Context, tx Tx, now time.Time) (int, error)
}
