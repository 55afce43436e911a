package usecase

import (
	"context"
	"time"

	"aicode-billing/internal/domain/model"
)

// EntitlementGranter applies the product benefit of a completed payment.
// Settlement calls exactly one grant per payment; grants must tolerate a retry
// for the same payment id.
type EntitlementGranter interface {
	GrantSubscription(ctx context.Context, userID, paymentID string, in model.SubscriptionIntent, now time.Time) (*model.Subscription, error)
	GrantCreditPackage(ctx context.Context, userID, paymentID string, in model.CreditPackageIntent, now time.Time) (*model.CreditPackage, error)
}
