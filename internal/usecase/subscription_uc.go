// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"aicode-billing/internal/domain"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/repository"
	ucport "aicode-billing/internal/domain/ports/usecase"
	"aicode-billing/internal/infra/metrics"
)

var _ ucport.EntitlementGranter = (*EntitlementUseCase)(nil)

// EntitlementUseCase grants and expires what completed payments bought.
type EntitlementUseCase struct {
	subs     repository.SubscriptionRepository
	packages repository.CreditPackageRepository
	tm       repository.TransactionManager
	log      *zerolog.Logger
}

// NewEntitlementUseCase constructs the usecase. tm may be nil (tests / in-memory repos);
// grants then run without a transaction.
func NewEntitlementUseCase(subs repository.SubscriptionRepository, packages repository.CreditPackageRepository, tm repository.TransactionManager, logger *zerolog.Logger) *EntitlementUseCase {
	return &EntitlementUseCase{subs: subs, packages: packages, tm: tm, log: logger}
}

func (uc *EntitlementUseCase) withTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if uc.tm == nil {
		return fn(ctx, nil)
	}
	return uc.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// GrantSubscription extends the user's active subscription of the same plan from
// max(now, end), or starts a new one at now. Replaying the same payment is a no-op.
func (uc *EntitlementUseCase) GrantSubscription(ctx context.Context, userID, paymentID string, in model.SubscriptionIntent, now time.Time) (*model.Subscription, error) {
	if userID == "" || paymentID == "" || in.PlanType == "" || in.BillingCycleDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	var out *model.Subscription
	err := uc.withTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.subs.LockUser(ctx, tx, userID); err != nil {
			return err
		}
		cur, err := uc.subs.FindActiveByUserAndPlan(ctx, tx, userID, in.PlanType)
		switch {
		case err == nil:
			if cur.LastPaymentID == paymentID {
				out = cur
				return nil
			}
			cur.Extend(in.BillingCycleDays, paymentID, now)
			out = cur
			return uc.subs.Save(ctx, tx, cur)
		case errors.Is(err, domain.ErrNotFound):
			s, err := model.NewSubscription(uuid.NewString(), userID, in.PlanType, paymentID, in.BillingCycleDays, now)
			if err != nil {
				return err
			}
			out = s
			return uc.subs.Save(ctx, tx, s)
		default:
			return err
		}
	})
	if err != nil {
		return nil, fmt.Errorf("grant subscription: %w", err)
	}

	uc.log.Info().
		Str("user_id", userID).
		Str("payment_id", paymentID).
		Str("plan", out.PlanType).
		Time("ends_at", out.SubscriptionEnd).
		Msg("subscription granted")
	return out, nil
}

// GrantCreditPackage creates one credit grant per payment. A second call for the
// same payment returns the existing grant.
func (uc *EntitlementUseCase) GrantCreditPackage(ctx context.Context, userID, paymentID string, in model.CreditPackageIntent, now time.Time) (*model.CreditPackage, error) {
	cp, err := model.NewCreditPackage(uuid.NewString(), userID, in.PackageID, paymentID, in.Credits, in.ValidityDays, now)
	if err != nil {
		return nil, err
	}
	if err := uc.packages.Create(ctx, nil, cp); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return uc.packages.FindByPaymentID(ctx, nil, paymentID)
		}
		return nil, fmt.Errorf("grant credit package: %w", err)
	}
	uc.log.Info().
		Str("user_id", userID).
		Str("payment_id", paymentID).
		Str("package", cp.PackageID).
		Int64("credits", cp.CreditsTotal).
		Time("expires_at", cp.ExpiryDate).
		Msg("credit package granted")
	return cp, nil
}

// FinishExpired flips subscriptions and credit packages whose end has passed.
func (uc *EntitlementUseCase) FinishExpired(ctx context.Context, now time.Time) (subs, packages int, err error) {
	subs, err = uc.subs.ExpireEnded(ctx, nil, now)
	if err != nil {
		return 0, 0, fmt.Errorf("expire subscriptions: %w", err)
	}
	metrics.IncSubscriptionsExpired(subs)

	packages, err = uc.packages.ExpireEnded(ctx, nil, now)
	if err != nil {
		return subs, 0, fmt.Errorf("expire credit packages: %w", err)
	}
	metrics.IncCreditPackagesExpired(packages)
	return subs, packages, nil
}

// GetEffectivePlan returns the best active subscription, or ErrNotFound.
func (uc *EntitlementUseCase) GetEffectivePlan(ctx context.Context, userID string, now time.Time) (*model.Subscription, error) {
	all, err := uc.subs.ListByUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	best := model.EffectivePlan(all, now)
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return best, nil
}

func (uc *EntitlementUseCase) ListCreditPackages(ctx context.Context, userID string) ([]*model.CreditPackage, error) {
	return uc.packages.ListActiveByUser(ctx, nil, userID)
}
