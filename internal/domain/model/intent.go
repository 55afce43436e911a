package model

import (
	"encoding/json"
	"fmt"

	"aicode-billing/internal/domain"
)

type IntentKind string

const (
	IntentSubscription  IntentKind = "subscription"
	IntentCreditPackage IntentKind = "creditPackage"
)

// SubscriptionIntent buys BillingCycleDays of PlanType.
type SubscriptionIntent struct {
	PlanType         string
	BillingCycle     string // monthly | yearly
	BillingCycleDays int
}

// CreditPackageIntent buys Credits valid for ValidityDays.
type CreditPackageIntent struct {
	PackageID    string
	Credits      int64
	ValidityDays int
}

// Intent is what the user is paying for. Exactly one of the pointers is set, matching Kind.
type Intent struct {
	Kind          IntentKind
	Subscription  *SubscriptionIntent
	CreditPackage *CreditPackageIntent
}

func NewSubscriptionIntent(planType, cycle string, days int) Intent {
	return Intent{Kind: IntentSubscription, Subscription: &SubscriptionIntent{PlanType: planType, BillingCycle: cycle, BillingCycleDays: days}}
}

func NewCreditPackageIntent(packageID string, credits int64, validityDays int) Intent {
	return Intent{Kind: IntentCreditPackage, CreditPackage: &CreditPackageIntent{PackageID: packageID, Credits: credits, ValidityDays: validityDays}}
}

func (i Intent) Validate() error {
	switch i.Kind {
	case IntentSubscription:
		s := i.Subscription
		if s == nil || i.CreditPackage != nil || s.PlanType == "" || s.BillingCycleDays <= 0 {
			return domain.ErrInvalidIntent
		}
	case IntentCreditPackage:
		c := i.CreditPackage
		if c == nil || i.Subscription != nil || c.PackageID == "" || c.Credits <= 0 || c.ValidityDays <= 0 {
			return domain.ErrInvalidIntent
		}
	default:
		return domain.ErrInvalidIntent
	}
	return nil
}

// Metadata renders the intent into the map stored on Payment.Metadata.
func (i Intent) Metadata() map[string]any {
	switch i.Kind {
	case IntentSubscription:
		return map[string]any{
			"type":             string(IntentSubscription),
			"planType":         i.Subscription.PlanType,
			"billingCycle":     i.Subscription.BillingCycle,
			"billingCycleDays": i.Subscription.BillingCycleDays,
		}
	case IntentCreditPackage:
		return map[string]any{
			"type":         string(IntentCreditPackage),
			"packageId":    i.CreditPackage.PackageID,
			"credits":      i.CreditPackage.Credits,
			"validityDays": i.CreditPackage.ValidityDays,
		}
	}
	return map[string]any{}
}

// IntentFromMetadata is the inverse of Metadata. Numbers may come back as
// float64 or json.Number after a JSONB round trip.
func IntentFromMetadata(md map[string]any) (Intent, error) {
	kind, _ := md["type"].(string)
	var in Intent
	switch IntentKind(kind) {
	case IntentSubscription:
		days, err := metaInt(md, "billingCycleDays")
		if err != nil {
			return Intent{}, err
		}
		plan, _ := md["planType"].(string)
		cycle, _ := md["billingCycle"].(string)
		in = NewSubscriptionIntent(plan, cycle, int(days))
	case IntentCreditPackage:
		credits, err := metaInt(md, "credits")
		if err != nil {
			return Intent{}, err
		}
		validity, err := metaInt(md, "validityDays")
		if err != nil {
			return Intent{}, err
		}
		pkg, _ := md["packageId"].(string)
		in = NewCreditPackageIntent(pkg, credits, int(validity))
	default:
		return Intent{}, fmt.Errorf("%w: metadata type %q", domain.ErrInvalidIntent, kind)
	}
	if err := in.Validate(); err != nil {
		return Intent{}, err
	}
	return in, nil
}

func metaInt(md map[string]any, key string) (int64, error) {
	switch v := md[key].(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	}
	return 0, fmt.Errorf("%w: metadata %s missing or not a number", domain.ErrInvalidIntent, key)
}
