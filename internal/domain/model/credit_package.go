package model

import (
	"time"

	"aicode-billing/internal/domain"
)

type CreditPackageStatus string

const (
	CreditPackageStatusActive    CreditPackageStatus = "active"
	CreditPackageStatusExhausted CreditPackageStatus = "exhausted"
	CreditPackageStatusExpired   CreditPackageStatus = "expired"
)

// CreditPackage is a consumable credit grant. Usage tracking decrements
// CreditsRemaining elsewhere; billing only creates and expires rows.
type CreditPackage struct {
	ID               string
	UserID           string
	PackageID        string
	PaymentID        string // unique: one grant per payment
	CreditsTotal     int64
	CreditsRemaining int64
	Status           CreditPackageStatus
	ExpiryDate       time.Time
	CreatedAt        time.Time
}

func NewCreditPackage(id, userID, packageID, paymentID string, credits int64, validityDays int, now time.Time) (*CreditPackage, error) {
	if id == "" || userID == "" || packageID == "" || paymentID == "" || credits <= 0 || validityDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &CreditPackage{
		ID:               id,
		UserID:           userID,
		PackageID:        packageID,
		PaymentID:        paymentID,
		CreditsTotal:     credits,
		CreditsRemaining: credits,
		Status:           CreditPackageStatusActive,
		ExpiryDate:       now.Add(time.Duration(validityDays) * 24 * time.Hour),
		CreatedAt:        now,
	}, nil
}
