package model

import (
	"time"

	"aicode-billing/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription is the entitlement derived from a completed subscription payment.
type Subscription struct {
	ID                string // UUID
	UserID            string
	PlanType          string
	Status            SubscriptionStatus
	SubscriptionStart time.Time
	SubscriptionEnd   time.Time
	LastPaymentID     string // payment that created or last extended this row
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewSubscription starts a subscription at now for the given number of days.
func NewSubscription(id, userID, planType, paymentID string, days int, now time.Time) (*Subscription, error) {
	if id == "" || userID == "" || planType == "" || days <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &Subscription{
		ID:                id,
		UserID:            userID,
		PlanType:          planType,
		Status:            SubscriptionStatusActive,
		SubscriptionStart: now,
		SubscriptionEnd:   now.Add(time.Duration(days) * 24 * time.Hour),
		LastPaymentID:     paymentID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// IsActive reports whether the row still grants access at t.
func (s *Subscription) IsActive(t time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.SubscriptionEnd.After(t)
}

// Extend renews from the current end, or from now if it already lapsed.
func (s *Subscription) Extend(days int, paymentID string, now time.Time) {
	from := s.SubscriptionEnd
	if from.Before(now) {
		from = now
	}
	s.SubscriptionEnd = from.Add(time.Duration(days) * 24 * time.Hour)
	s.Status = SubscriptionStatusActive
	s.LastPaymentID = paymentID
	s.UpdatedAt = now
}

// planRank orders plan types; unknown plans rank lowest.
var planRank = map[string]int{
	"basic":      1,
	"pro":        2,
	"team":       3,
	"enterprise": 4,
}

// EffectivePlan picks the best currently-active subscription, or nil.
func EffectivePlan(subs []*Subscription, now time.Time) *Subscription {
	var best *Subscription
	for _, s := range subs {
		if !s.IsActive(now) {
			continue
		}
		if best == nil {
			best = s
			continue
		}
		rs, rb := planRank[s.PlanType], planRank[best.PlanType]
		if rs > rb || (rs == rb && s.SubscriptionEnd.After(best.SubscriptionEnd)) {
			best = s
		}
	}
	return best
}
