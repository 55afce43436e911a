package usecase

import (
	"context"

	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/adapter"
)

// PaymentSettler drives the pending -> terminal transition of a payment.
// The reconciler and the query path share it with the webhook handlers.
type PaymentSettler interface {
	Settle(ctx context.Context, method model.PaymentMethod, res adapter.CallbackResult) (*SettleResult, error)
	Cancel(ctx context.Context, externalOrderID string) (bool, error)
}

// SettleResult reports what a settlement attempt did. AlreadySettled is the
// idempotent no-op; EntitlementErr is set when the payment completed but the
// grant must be reconciled by an operator.
type SettleResult struct {
	Payment        *model.Payment
	Applied        bool
	AlreadySettled bool
	EntitlementErr error
}
