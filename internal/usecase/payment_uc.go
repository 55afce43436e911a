// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"aicode-billing/internal/domain"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/adapter"
	"aicode-billing/internal/domain/ports/repository"
	ucport "aicode-billing/internal/domain/ports/usecase"
	"aicode-billing/internal/infra/logging"
	"aicode-billing/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// DuplicateRequestError rejects a resubmission inside the duplicate window.
type DuplicateRequestError struct {
	RetryAfter time.Duration
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("duplicate payment request, retry after %d seconds", e.RetryAfterSeconds())
}

func (e *DuplicateRequestError) Is(target error) bool { return target == domain.ErrDuplicateRequest }

// RetryAfterSeconds rounds up and never reports less than one second.
func (e *DuplicateRequestError) RetryAfterSeconds() int {
	s := int(math.Ceil(e.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// SubmissionGuard is the fast first tier of the duplicate guard (a Redis marker).
// Claim reports whether the key was free; when it was not, ttl is the remaining hold.
type SubmissionGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (acquired bool, remaining time.Duration, err error)
	Release(ctx context.Context, key string) error
}

// PaymentPolicy carries product-level knobs.
type PaymentPolicy struct {
	Currency        string
	DuplicateWindow time.Duration
	CreateRetries   int
}

type CreatePaymentInput struct {
	UserID      string
	Amount      int64
	Currency    string // defaults to the policy currency
	Method      model.PaymentMethod
	Intent      model.Intent
	Description string
	Mode        adapter.CheckoutMode
}

type CreatePaymentOutput struct {
	Payment        *model.Payment
	OrderID        string
	RedirectTarget string
	TargetKind     adapter.TargetKind
}

type PaymentUseCase interface {
	// CreatePayment opens a gateway order and records a pending payment.
	CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentOutput, error)
	// QueryOrder returns the payment status, asking the gateway while it is pending.
	QueryOrder(ctx context.Context, externalOrderID string) (model.PaymentStatus, error)
	// GetPayment loads a payment by its external order id.
	GetPayment(ctx context.Context, externalOrderID string) (*model.Payment, error)
}

type paymentUC struct {
	payments   repository.PaymentRepository
	gateways   map[model.PaymentMethod]adapter.PaymentGateway
	guard      SubmissionGuard
	settler    ucport.PaymentSettler
	policy     PaymentPolicy
	newOrderID func(time.Time) string
	log        *zerolog.Logger
	now        func() time.Time
}

// NewPaymentUseCase wires the orchestrator. guard may be nil; the database check still runs.
func NewPaymentUseCase(
	payments repository.PaymentRepository,
	gateways []adapter.PaymentGateway,
	guard SubmissionGuard,
	settler ucport.PaymentSettler,
	policy PaymentPolicy,
	newOrderID func(time.Time) string,
	logger *zerolog.Logger,
) *paymentUC {
	gw := make(map[model.PaymentMethod]adapter.PaymentGateway, len(gateways))
	for _, g := range gateways {
		gw[g.Method()] = g
	}
	if policy.Currency == "" {
		policy.Currency = "CNY"
	}
	if policy.DuplicateWindow <= 0 {
		policy.DuplicateWindow = 60 * time.Second
	}
	if policy.CreateRetries <= 0 {
		policy.CreateRetries = 1
	}
	return &paymentUC{
		payments:   payments,
		gateways:   gw,
		guard:      guard,
		settler:    settler,
		policy:     policy,
		newOrderID: newOrderID,
		log:        logger,
		now:        time.Now,
	}
}

func dupKey(in CreatePaymentInput) string {
	return fmt.Sprintf("dup:%s:%d:%s:%s", in.UserID, in.Amount, in.Currency, in.Method)
}

func (u *paymentUC) CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentOutput, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.CreatePayment")()
	ctx = logging.WithUserID(logging.WithMethod(ctx, string(in.Method)), in.UserID)
	log := logging.With(ctx, u.log)

	if in.Currency == "" {
		in.Currency = u.policy.Currency
	}
	if in.UserID == "" || in.Amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if !in.Method.Valid() {
		return nil, domain.ErrUnknownMethod
	}
	if err := in.Intent.Validate(); err != nil {
		return nil, err
	}
	gw, ok := u.gateways[in.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not enabled", domain.ErrUnknownMethod, in.Method)
	}

	now := u.now()
	key := dupKey(in)
	claimed := false
	if u.guard != nil {
		acquired, remaining, err := u.guard.Claim(ctx, key, u.policy.DuplicateWindow)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("submission marker unavailable; relying on database check")
		case !acquired:
			metrics.IncPaymentDuplicate(string(in.Method))
			log.Info().Dur("retry_after", remaining).Msg("duplicate payment request rejected (marker)")
			return nil, &DuplicateRequestError{RetryAfter: remaining}
		default:
			claimed = true
		}
	}
	release := func() {
		if claimed {
			if err := u.guard.Release(ctx, key); err != nil {
				log.Warn().Err(err).Msg("failed to release submission marker")
			}
		}
	}

	dup, err := u.payments.FindRecentDuplicate(ctx, nil, repository.DuplicateQuery{
		UserID:   in.UserID,
		Amount:   in.Amount,
		Currency: in.Currency,
		Method:   in.Method,
		Since:    now.Add(-u.policy.DuplicateWindow),
	})
	switch {
	case err == nil && dup != nil:
		// the marker stays: it now mirrors the existing order.
		metrics.IncPaymentDuplicate(string(in.Method))
		retry := dup.CreatedAt.Add(u.policy.DuplicateWindow).Sub(now)
		log.Info().Str("existing_order_id", dup.ExternalOrderID).Dur("retry_after", retry).Msg("duplicate payment request rejected")
		return nil, &DuplicateRequestError{RetryAfter: retry}
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		release()
		return nil, fmt.Errorf("duplicate check: %w", err)
	}

	var res *adapter.OrderResult
	for attempt := 1; ; attempt++ {
		orderID := u.newOrderID(now)
		res, err = gw.CreateOrder(ctx, adapter.OrderRequest{
			ExternalOrderID: orderID,
			Amount:          in.Amount,
			Currency:        in.Currency,
			UserID:          in.UserID,
			Description:     in.Description,
			Intent:          in.Intent,
			Mode:            in.Mode,
		})
		if err == nil {
			break
		}
		if isDuplicateOrderID(err) && attempt < u.policy.CreateRetries {
			log.Warn().Str("order_id", orderID).Int("attempt", attempt).Msg("gateway reported duplicate order id; regenerating")
			continue
		}
		release()
		metrics.IncPayment(string(in.Method), "create_failed")
		log.Error().Err(err).Str("order_id", orderID).Msg("gateway order creation failed")
		return nil, fmt.Errorf("create %s order: %w", in.Method, err)
	}

	p, err := model.NewPendingPayment(uuid.NewString(), in.UserID, in.Amount, in.Currency, in.Method, res.ExternalOrderID, in.Description, in.Intent)
	if err != nil {
		release()
		return nil, err
	}
	if err := u.payments.Save(ctx, nil, p); err != nil {
		// The gateway order is abandoned; it expires unpaid on the provider side.
		release()
		log.Error().Err(err).Str("order_id", res.ExternalOrderID).Msg("failed to persist pending payment")
		return nil, fmt.Errorf("save payment: %w", err)
	}

	metrics.IncPayment(string(in.Method), "created")
	log.Info().Str("order_id", p.ExternalOrderID).Int64("amount", p.Amount).Str("intent", string(in.Intent.Kind)).Msg("payment created")
	return &CreatePaymentOutput{
		Payment:        p,
		OrderID:        p.ExternalOrderID,
		RedirectTarget: res.RedirectTarget,
		TargetKind:     res.TargetKind,
	}, nil
}

func (u *paymentUC) GetPayment(ctx context.Context, externalOrderID string) (*model.Payment, error) {
	return u.payments.FindByExternalOrderID(ctx, nil, externalOrderID)
}

// QueryOrder reconciles a pending payment against the gateway. A completed or
// failed answer is pushed through settlement, exactly like a notification.
func (u *paymentUC) QueryOrder(ctx context.Context, externalOrderID string) (model.PaymentStatus, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.QueryOrder")()
	p, err := u.payments.FindByExternalOrderID(ctx, nil, externalOrderID)
	if err != nil {
		return "", err
	}
	if p.Status.IsTerminal() {
		return p.Status, nil
	}
	gw, ok := u.gateways[p.Method]
	if !ok {
		return p.Status, fmt.Errorf("%w: %s is not enabled", domain.ErrUnknownMethod, p.Method)
	}
	st, err := gw.QueryOrder(ctx, externalOrderID)
	if err != nil {
		// the payment stays pending for the reconciler or a later notification
		return p.Status, fmt.Errorf("query %s order: %w", p.Method, err)
	}

	log := logging.With(logging.WithOrderID(ctx, externalOrderID), u.log)
	log.Debug().Str("raw_state", st.RawState).Str("state", string(st.State)).Msg("gateway order state")

	if st.State == adapter.OrderStatePending || u.settler == nil {
		return p.Status, nil
	}
	out, err := u.settler.Settle(ctx, p.Method, adapter.CallbackResult{
		Success:       st.State == adapter.OrderStateCompleted,
		OrderID:       externalOrderID,
		TransactionID: st.TransactionID,
		Outcome:       st.State,
		Amount:        st.Amount,
	})
	if err != nil {
		return p.Status, err
	}
	return out.Payment.Status, nil
}

// duplicateOrderIDer is satisfied by gateway errors that can flag an order id collision.
type duplicateOrderIDer interface {
	DuplicateOrderID() bool
}

func isDuplicateOrderID(err error) bool {
	var d duplicateOrderIDer
	return errors.As(err, &d) && d.DuplicateOrderID()
}
