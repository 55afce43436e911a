//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"

	"aicode-billing/internal/domain"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/repository"
	"aicode-billing/internal/usecase"
)

func TestEntitlementUseCase_GrantSubscription(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	monthly := model.SubscriptionIntent{PlanType: "pro", BillingCycle: "monthly", BillingCycleDays: 30}

	t.Run("should start a new subscription when none is active", func(t *testing.T) {
		// --- Arrange ---
		subs := NewMockSubscriptionRepo()
		uc := usecase.NewEntitlementUseCase(subs, NewMockCreditPackageRepo(), NewMockTxManager(), newTestLogger())

		// --- Act ---
		s, err := uc.GrantSubscription(ctx, "user-1", "pay-1", monthly, now)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !s.SubscriptionStart.Equal(now) || !s.SubscriptionEnd.Equal(now.AddDate(0, 0, 30)) {
			t.Errorf("unexpected period %s - %s", s.SubscriptionStart, s.SubscriptionEnd)
		}
		if s.Status != model.SubscriptionStatusActive {
			t.Errorf("expected active, got %s", s.Status)
		}
	})

	t.Run("should extend an active subscription from its current end", func(t *testing.T) {
		// --- Arrange ---
		subs := NewMockSubscriptionRepo()
		uc := usecase.NewEntitlementUseCase(subs, NewMockCreditPackageRepo(), NewMockTxManager(), newTestLogger())
		first, _ := uc.GrantSubscription(ctx, "user-1", "pay-1", monthly, now)

		// --- Act ---
		second, err := uc.GrantSubscription(ctx, "user-1", "pay-2", monthly, now.AddDate(0, 0, 10))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if second.ID != first.ID {
			t.Error("expected the same row to be extended")
		}
		if want := now.AddDate(0, 0, 60); !second.SubscriptionEnd.Equal(want) {
			t.Errorf("expected end %s, got %s", want, second.SubscriptionEnd)
		}
		if len(subs.all()) != 1 {
			t.Errorf("expected one row, got %d", len(subs.all()))
		}
	})

	t.Run("should extend a lapsed row from now", func(t *testing.T) {
		// --- Arrange ---
		subs := NewMockSubscriptionRepo()
		uc := usecase.NewEntitlementUseCase(subs, NewMockCreditPackageRepo(), NewMockTxManager(), newTestLogger())
		_, _ = uc.GrantSubscription(ctx, "user-1", "pay-1", monthly, now)
		later := now.AddDate(0, 0, 45)

		// --- Act ---
		s, err := uc.GrantSubscription(ctx, "user-1", "pay-2", monthly, later)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if want := later.AddDate(0, 0, 30); !s.SubscriptionEnd.Equal(want) {
			t.Errorf("expected end %s, got %s", want, s.SubscriptionEnd)
		}
	})

	t.Run("should not extend twice for the same payment", func(t *testing.T) {
		// --- Arrange ---
		subs := NewMockSubscriptionRepo()
		uc := usecase.NewEntitlementUseCase(subs, NewMockCreditPackageRepo(), NewMockTxManager(), newTestLogger())
		first, _ := uc.GrantSubscription(ctx, "user-1", "pay-1", monthly, now)

		// --- Act ---
		again, err := uc.GrantSubscription(ctx, "user-1", "pay-1", monthly, now.Add(time.Hour))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !again.SubscriptionEnd.Equal(first.SubscriptionEnd) {
			t.Errorf("end moved from %s to %s", first.SubscriptionEnd, again.SubscriptionEnd)
		}
	})

	t.Run("should keep plans separate", func(t *testing.T) {
		subs := NewMockSubscriptionRepo()
		uc := usecase.NewEntitlementUseCase(subs, NewMockCreditPackageRepo(), NewMockTxManager(), newTestLogger())

		_, _ = uc.GrantSubscription(ctx, "user-1", "pay-1", monthly, now)
		_, _ = uc.GrantSubscription(ctx, "user-1", "pay-2", model.SubscriptionIntent{PlanType: "basic", BillingCycle: "monthly", BillingCycleDays: 30}, now)

		if len(subs.all()) != 2 {
			t.Errorf("expected two rows, got %d", len(subs.all()))
		}
	})

	t.Run("should run inside a transaction and surface its failure", func(t *testing.T) {
		// --- Arrange ---
		tm := NewMockTxManager()
		var used bool
		tm.WithTxFunc = func(ctx context.Context, opt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
			used = true
			return errors.New("serialization failure")
		}
		uc := usecase.NewEntitlementUseCase(NewMockSubscriptionRepo(), NewMockCreditPackageRepo(), tm, newTestLogger())

		// --- Act ---
		_, err := uc.GrantSubscription(ctx, "user-1", "pay-1", monthly, now)

		// --- Assert ---
		if !used || err == nil {
			t.Fatalf("expected the tx error, got used=%v err=%v", used, err)
		}
	})

	t.Run("should reject an empty intent", func(t *testing.T) {
		uc := usecase.NewEntitlementUseCase(NewMockSubscriptionRepo(), NewMockCreditPackageRepo(), NewMockTxManager(), newTestLogger())

		_, err := uc.GrantSubscription(ctx, "user-1", "pay-1", model.SubscriptionIntent{}, now)

		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestEntitlementUseCase_GrantCreditPackage(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	basic := model.CreditPackageIntent{PackageID: "basic", Credits: 100, ValidityDays: 30}

	t.Run("should return the existing grant for a repeated payment", func(t *testing.T) {
		// --- Arrange ---
		packages := NewMockCreditPackageRepo()
		uc := usecase.NewEntitlementUseCase(NewMockSubscriptionRepo(), packages, NewMockTxManager(), newTestLogger())
		first, err := uc.GrantCreditPackage(ctx, "user-1", "pay-1", basic, now)
		if err != nil {
			t.Fatalf("first grant: %v", err)
		}

		// --- Act ---
		second, err := uc.GrantCreditPackage(ctx, "user-1", "pay-1", basic, now.Add(time.Hour))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if second.ID != first.ID || !second.ExpiryDate.Equal(now.AddDate(0, 0, 30)) {
			t.Errorf("expected the original grant back, got %+v", second)
		}
		list, _ := packages.ListActiveByUser(ctx, nil, "user-1")
		if len(list) != 1 {
			t.Errorf("expected one grant, got %d", len(list))
		}
	})
}

func TestEntitlementUseCase_FinishExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should expire ended subscriptions and packages", func(t *testing.T) {
		// --- Arrange ---
		subs := NewMockSubscriptionRepo()
		packages := NewMockCreditPackageRepo()
		uc := usecase.NewEntitlementUseCase(subs, packages, NewMockTxManager(), newTestLogger())
		_, _ = uc.GrantSubscription(ctx, "user-1", "pay-1", model.SubscriptionIntent{PlanType: "pro", BillingCycleDays: 30}, now)
		_, _ = uc.GrantSubscription(ctx, "user-2", "pay-2", model.SubscriptionIntent{PlanType: "pro", BillingCycleDays: 365}, now)
		_, _ = uc.GrantCreditPackage(ctx, "user-1", "pay-3", model.CreditPackageIntent{PackageID: "basic", Credits: 100, ValidityDays: 7}, now)

		// --- Act ---
		s, p, err := uc.FinishExpired(ctx, now.AddDate(0, 0, 31))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if s != 1 || p != 1 {
			t.Errorf("expected 1 subscription and 1 package expired, got %d/%d", s, p)
		}
	})
}

func TestEntitlementUseCase_GetEffectivePlan(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should prefer the higher tier", func(t *testing.T) {
		// --- Arrange ---
		uc := usecase.NewEntitlementUseCase(NewMockSubscriptionRepo(), NewMockCreditPackageRepo(), NewMockTxManager(), newTestLogger())
		_, _ = uc.GrantSubscription(ctx, "user-1", "pay-1", model.SubscriptionIntent{PlanType: "basic", BillingCycleDays: 365}, now)
		_, _ = uc.GrantSubscription(ctx, "user-1", "pay-2", model.SubscriptionIntent{PlanType: "pro", BillingCycleDays: 30}, now)

		// --- Act ---
		best, err := uc.GetEffectivePlan(ctx, "user-1", now.Add(time.Hour))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if best.PlanType != "pro" {
			t.Errorf("expected pro, got %s", best.PlanType)
		}
	})

	t.Run("should report ErrNotFound without an active plan", func(t *testing.T) {
		uc := usecase.NewEntitlementUseCase(NewMockSubscriptionRepo(), NewMockCreditPackageRepo(), NewMockTxManager(), newTestLogger())

		_, err := uc.GetEffectivePlan(ctx, "user-1", now)

		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
