package model

import (
	"time"

	"aicode-billing/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // order opened at the gateway; awaiting notification
	PaymentStatusCompleted PaymentStatus = "completed" // verified success; terminal
	PaymentStatusFailed    PaymentStatus = "failed"    // gateway closed or rejected the order; terminal
	PaymentStatusCancelled PaymentStatus = "cancelled" // abandoned by user or operator; terminal
)

// IsTerminal reports whether no further transition is allowed.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusCancelled
}

type PaymentMethod string

const (
	PaymentMethodWeChat PaymentMethod = "wechat" // QR / native gateway
	PaymentMethodAlipay PaymentMethod = "alipay" // page-redirect gateway
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodWeChat || m == PaymentMethodAlipay
}

type EntitlementStatus string

const (
	EntitlementStatusNone                  EntitlementStatus = ""
	EntitlementStatusGranted               EntitlementStatus = "granted"
	EntitlementStatusPendingReconciliation EntitlementStatus = "pending_reconciliation"
)

// Payment records one attempted transaction at a gateway.
type Payment struct {
	ID                string        // UUID
	UserID            string        // owner
	Amount            int64         // minor units (fen)
	Currency          string        // e.g. "CNY"
	Method            PaymentMethod // gateway identifier
	ExternalOrderID   string        // merchant order id sent to the gateway; unique, immutable
	TransactionID     string        // gateway transaction id, set on settlement
	Status            PaymentStatus
	Description       string
	Metadata          map[string]any // intent envelope, see Intent.Metadata
	EntitlementStatus EntitlementStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// NewPendingPayment validates and constructs a payment in the pending state.
func NewPendingPayment(id, userID string, amount int64, currency string, method PaymentMethod, externalOrderID, description string, intent Intent) (*Payment, error) {
	if id == "" || userID == "" || amount <= 0 || currency == "" || externalOrderID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if !method.Valid() {
		return nil, domain.ErrUnknownMethod
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Payment{
		ID:              id,
		UserID:          userID,
		Amount:          amount,
		Currency:        currency,
		Method:          method,
		ExternalOrderID: externalOrderID,
		Status:          PaymentStatusPending,
		Description:     description,
		Metadata:        intent.Metadata(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// CanTransition enforces pending -> {completed, failed, cancelled}.
func (p *Payment) CanTransition(to PaymentStatus) bool {
	return p.Status == PaymentStatusPending && to.IsTerminal()
}

// Intent recovers the business intent stored at creation time.
func (p *Payment) Intent() (Intent, error) {
	return IntentFromMetadata(p.Metadata)
}
