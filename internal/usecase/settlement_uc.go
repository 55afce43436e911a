// File: internal/usecase/settlement_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"aicode-billing/internal/domain"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/adapter"
	"aicode-billing/internal/domain/ports/repository"
	ucport "aicode-billing/internal/domain/ports/usecase"
	"aicode-billing/internal/infra/logging"
	"aicode-billing/internal/infra/metrics"
)

var _ ucport.PaymentSettler = (*SettlementUseCase)(nil)

// SettlementUseCase owns the pending -> terminal transition and the entitlement grant.
// Idempotency comes from the conditional update in the repository, not from locks here.
type SettlementUseCase struct {
	payments repository.PaymentRepository
	granter  ucport.EntitlementGranter
	alerter  adapter.Alerter
	log      *zerolog.Logger
	now      func() time.Time
}

func NewSettlementUseCase(payments repository.PaymentRepository, granter ucport.EntitlementGranter, alerter adapter.Alerter, logger *zerolog.Logger) *SettlementUseCase {
	return &SettlementUseCase{
		payments: payments,
		granter:  granter,
		alerter:  alerter,
		log:      logger,
		now:      time.Now,
	}
}

// Settle applies a verified gateway outcome. A pending outcome is a no-op.
func (s *SettlementUseCase) Settle(ctx context.Context, method model.PaymentMethod, res adapter.CallbackResult) (*ucport.SettleResult, error) {
	defer logging.TraceDuration(s.log, "SettlementUC.Settle")()
	if res.OrderID == "" {
		return nil, domain.ErrInvalidArgument
	}
	ctx = logging.WithMethod(logging.WithOrderID(ctx, res.OrderID), string(method))

	p, err := s.payments.FindByExternalOrderID(ctx, nil, res.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.alert(ctx, fmt.Sprintf("verified %s notification for unknown order %s (outcome %s)", method, res.OrderID, res.Outcome))
		}
		return nil, err
	}
	if p.Method != method {
		return nil, fmt.Errorf("%w: order %s belongs to %s, notification came from %s", domain.ErrInvalidArgument, p.ExternalOrderID, p.Method, method)
	}

	switch {
	case res.Success && res.Outcome == adapter.OrderStateCompleted:
		return s.complete(ctx, p, res)
	case res.Outcome == adapter.OrderStateFailed:
		return s.terminate(ctx, p, model.PaymentStatusFailed)
	default:
		return &ucport.SettleResult{Payment: p, AlreadySettled: p.Status.IsTerminal()}, nil
	}
}

func (s *SettlementUseCase) complete(ctx context.Context, p *model.Payment, res adapter.CallbackResult) (*ucport.SettleResult, error) {
	log := logging.With(logging.WithUserID(ctx, p.UserID), s.log)

	if res.Attach != nil && res.Attach.UserID != p.UserID {
		s.alert(ctx, fmt.Sprintf("order %s: notification attach user %s does not match payment owner %s", p.ExternalOrderID, res.Attach.UserID, p.UserID))
		return nil, domain.ErrOrderOwnerMismatch
	}
	if res.Amount != 0 && res.Amount != p.Amount {
		log.Error().Int64("expected", p.Amount).Int64("paid", res.Amount).Msg("paid amount differs from order amount")
		s.alert(ctx, fmt.Sprintf("order %s: paid %d but order amount is %d %s", p.ExternalOrderID, res.Amount, p.Amount, p.Currency))
	}

	updated, applied, err := s.payments.MarkCompletedIfPending(ctx, nil, p.ExternalOrderID, res.TransactionID, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}
	if !applied {
		switch {
		case updated.Status == model.PaymentStatusCompleted && updated.EntitlementStatus == model.EntitlementStatusGranted:
			log.Debug().Msg("payment already completed; notification ignored")
			return &ucport.SettleResult{Payment: updated, AlreadySettled: true}, nil
		case updated.Status == model.PaymentStatusCompleted:
			// completed by an earlier delivery that never recorded its grant
			log.Warn().Str("entitlement_status", string(updated.EntitlementStatus)).Msg("completed payment without a recorded grant; granting again")
			out := &ucport.SettleResult{Payment: updated, AlreadySettled: true}
			s.finishGrant(ctx, updated, res.Attach, out)
			return out, nil
		default:
			log.Error().Str("status", string(updated.Status)).Msg("success notification for a closed payment")
			s.alert(ctx, fmt.Sprintf("order %s: gateway reports payment success but payment is %s; refund or manual grant needed", p.ExternalOrderID, updated.Status))
			return &ucport.SettleResult{Payment: updated}, domain.ErrInvalidTransition
		}
	}

	metrics.IncPayment(string(updated.Method), string(model.PaymentStatusCompleted))
	metrics.AddPaymentRevenue(updated.Currency, updated.Amount)
	log.Info().Str("transaction_id", updated.TransactionID).Msg("payment completed")

	out := &ucport.SettleResult{Payment: updated, Applied: true}
	s.finishGrant(ctx, updated, res.Attach, out)
	return out, nil
}

// RetryEntitlement grants the entitlement of a completed payment whose grant was
// never recorded. Grants are keyed by payment id, so a grant that did land is not repeated.
func (s *SettlementUseCase) RetryEntitlement(ctx context.Context, paymentID string) (*ucport.SettleResult, error) {
	p, err := s.payments.FindByID(ctx, nil, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PaymentStatusCompleted {
		return &ucport.SettleResult{Payment: p}, domain.ErrInvalidTransition
	}
	out := &ucport.SettleResult{Payment: p, AlreadySettled: true}
	if p.EntitlementStatus == model.EntitlementStatusGranted {
		return out, nil
	}
	ctx = logging.WithMethod(logging.WithOrderID(ctx, p.ExternalOrderID), string(p.Method))
	s.finishGrant(ctx, p, nil, out)
	return out, nil
}

// finishGrant runs the grant and records its outcome on the payment. A failure keeps
// the payment completed, flags it pending_reconciliation and alerts once per flag.
func (s *SettlementUseCase) finishGrant(ctx context.Context, p *model.Payment, attach *model.Attach, out *ucport.SettleResult) {
	log := logging.With(logging.WithUserID(ctx, p.UserID), s.log)
	kind, grantErr := s.grant(ctx, p, attach)
	if grantErr != nil {
		out.EntitlementErr = grantErr
		alreadyFlagged := p.EntitlementStatus == model.EntitlementStatusPendingReconciliation
		p.EntitlementStatus = model.EntitlementStatusPendingReconciliation
		if err := s.payments.SetEntitlementStatus(ctx, nil, p.ID, model.EntitlementStatusPendingReconciliation); err != nil {
			log.Error().Err(err).Msg("failed to flag payment for reconciliation")
		}
		metrics.IncEntitlementFailure(kind)
		log.Error().Err(grantErr).Str("kind", kind).Msg("entitlement grant failed; payment kept completed")
		if !alreadyFlagged {
			s.alert(ctx, fmt.Sprintf("order %s (user %s): payment completed but %s grant failed: %v", p.ExternalOrderID, p.UserID, kind, grantErr))
		}
		return
	}

	p.EntitlementStatus = model.EntitlementStatusGranted
	if err := s.payments.SetEntitlementStatus(ctx, nil, p.ID, model.EntitlementStatusGranted); err != nil {
		log.Warn().Err(err).Msg("failed to record entitlement status")
	}
	metrics.IncEntitlementGranted(kind)
}

// grant applies the intent stored on the payment; the echoed attach is a fallback
// for rows whose metadata cannot be read back.
func (s *SettlementUseCase) grant(ctx context.Context, p *model.Payment, attach *model.Attach) (string, error) {
	in, err := p.Intent()
	if err != nil {
		if attach == nil {
			return "unknown", err
		}
		in = attach.Intent
	}
	now := s.now()
	switch in.Kind {
	case model.IntentSubscription:
		_, err := s.granter.GrantSubscription(ctx, p.UserID, p.ID, *in.Subscription, now)
		return string(model.IntentSubscription), err
	case model.IntentCreditPackage:
		_, err := s.granter.GrantCreditPackage(ctx, p.UserID, p.ID, *in.CreditPackage, now)
		return string(model.IntentCreditPackage), err
	}
	return "unknown", domain.ErrInvalidIntent
}

func (s *SettlementUseCase) terminate(ctx context.Context, p *model.Payment, to model.PaymentStatus) (*ucport.SettleResult, error) {
	applied, err := s.payments.MarkTerminalIfPending(ctx, nil, p.ExternalOrderID, to)
	if err != nil {
		return nil, fmt.Errorf("mark %s: %w", to, err)
	}
	if !applied {
		cur, err := s.payments.FindByExternalOrderID(ctx, nil, p.ExternalOrderID)
		if err != nil {
			return nil, err
		}
		s.log.Debug().Str("order_id", p.ExternalOrderID).Str("status", string(cur.Status)).Msg("payment already terminal; transition ignored")
		return &ucport.SettleResult{Payment: cur, AlreadySettled: true}, nil
	}
	metrics.IncPayment(string(p.Method), string(to))
	p.Status = to
	s.log.Info().Str("order_id", p.ExternalOrderID).Str("status", string(to)).Msg("payment closed")
	return &ucport.SettleResult{Payment: p, Applied: true}, nil
}

// Cancel moves a pending payment to cancelled; false means it was no longer pending.
func (s *SettlementUseCase) Cancel(ctx context.Context, externalOrderID string) (bool, error) {
	p, err := s.payments.FindByExternalOrderID(ctx, nil, externalOrderID)
	if err != nil {
		return false, err
	}
	out, err := s.terminate(ctx, p, model.PaymentStatusCancelled)
	if err != nil {
		return false, err
	}
	return out.Applied, nil
}

func (s *SettlementUseCase) alert(ctx context.Context, text string) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Alert(ctx, text); err != nil {
		s.log.Error().Err(err).Msg("operator alert failed")
	}
}
