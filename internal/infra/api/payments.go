package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"aicode-billing/internal/domain"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/adapter"
	"aicode-billing/internal/infra/adapters/payment"
	"aicode-billing/internal/infra/logging"
	"aicode-billing/internal/infra/metrics"
	"aicode-billing/internal/infra/redis"
	"aicode-billing/internal/usecase"
)

const maxRequestBody = 16 << 10

type createPaymentRequest struct {
	Method  string `json:"method"`
	Product string `json:"product"`
	Mode    string `json:"mode"` // alipay only: redirect | form
}

type createPaymentResponse struct {
	OrderID        string `json:"order_id"`
	PaymentID      string `json:"payment_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Method         string `json:"method"`
	Status         string `json:"status"`
	RedirectTarget string `json:"redirect_target"`
	TargetKind     string `json:"target_kind"`
}

type paymentView struct {
	OrderID           string     `json:"order_id"`
	Status            string     `json:"status"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	Method            string     `json:"method"`
	Description       string     `json:"description"`
	EntitlementStatus string     `json:"entitlement_status,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Message           string     `json:"message,omitempty"`
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := s.d.Identity.UserID(r)
	if err != nil {
		s.fail(w, r, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	ctx := logging.WithUserID(r.Context(), userID)
	log := logging.With(ctx, s.log)

	if s.d.Limiter != nil && s.d.RateLimit > 0 {
		allowed, err := s.d.Limiter.Allow(ctx, redis.UserActionKey(userID, "create_payment"), s.d.RateLimit, time.Minute)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("rate limiter unavailable; allowing request")
		case !allowed:
			metrics.IncRateLimitTriggered()
			w.Header().Set("Retry-After", "60")
			s.fail(w, r, http.StatusTooManyRequests, "rate_limited")
			return
		}
	}

	var req createPaymentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.fail(w, r, http.StatusBadRequest, "invalid_request")
		return
	}
	method := model.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method)))
	if !method.Valid() {
		s.fail(w, r, http.StatusBadRequest, "unknown_method", req.Method)
		return
	}
	mode := adapter.CheckoutMode(strings.ToLower(req.Mode))
	if mode != "" && mode != adapter.CheckoutModeRedirect && mode != adapter.CheckoutModeForm {
		s.fail(w, r, http.StatusBadRequest, "invalid_request")
		return
	}
	offer, err := s.d.Catalog.Resolve(req.Product)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, "unknown_product", req.Product)
		return
	}

	out, err := s.d.Payments.CreatePayment(ctx, usecase.CreatePaymentInput{
		UserID:      userID,
		Amount:      offer.Amount,
		Currency:    offer.Currency,
		Method:      method,
		Intent:      offer.Intent,
		Description: offer.Description,
		Mode:        mode,
	})
	if err != nil {
		s.createFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createPaymentResponse{
		OrderID:        out.OrderID,
		PaymentID:      out.Payment.ID,
		Amount:         out.Payment.Amount,
		Currency:       out.Payment.Currency,
		Method:         string(out.Payment.Method),
		Status:         string(out.Payment.Status),
		RedirectTarget: out.RedirectTarget,
		TargetKind:     string(out.TargetKind),
	})
}

func (s *Server) createFailed(w http.ResponseWriter, r *http.Request, err error) {
	var dup *usecase.DuplicateRequestError
	var ge *payment.GatewayError
	switch {
	case errors.As(err, &dup):
		secs := dup.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		s.fail(w, r, http.StatusTooManyRequests, "duplicate_request", secs)
	case errors.Is(err, domain.ErrUnknownMethod):
		s.fail(w, r, http.StatusBadRequest, "unknown_method", "")
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidIntent):
		s.fail(w, r, http.StatusBadRequest, "invalid_request")
	case errors.As(err, &ge):
		s.fail(w, r, http.StatusBadGateway, "create_failed")
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Msg("create payment failed")
		s.fail(w, r, http.StatusInternalServerError, "internal_error")
	}
}

// ownedPayment loads the order named in the path and writes the error response
// when it is missing or belongs to someone else.
func (s *Server) ownedPayment(w http.ResponseWriter, r *http.Request) (context.Context, *model.Payment, bool) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return nil, nil, false
	}
	orderID := chi.URLParam(r, "orderId")
	ctx := logging.WithOrderID(logging.WithUserID(r.Context(), userID), orderID)

	p, err := s.d.Payments.GetPayment(ctx, orderID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.fail(w, r, http.StatusNotFound, "order_not_found")
		return nil, nil, false
	case err != nil:
		logging.With(ctx, s.log).Error().Err(err).Msg("load payment failed")
		s.fail(w, r, http.StatusInternalServerError, "internal_error")
		return nil, nil, false
	case p.UserID != userID:
		s.fail(w, r, http.StatusForbidden, "forbidden")
		return nil, nil, false
	}
	return ctx, p, true
}

// handleGetPayment returns the caller's order, asking the gateway while it is pending.
func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	ctx, p, ok := s.ownedPayment(w, r)
	if !ok {
		return
	}
	orderID := p.ExternalOrderID

	view := toPaymentView(p)
	if p.Status == model.PaymentStatusPending {
		st, err := s.d.Payments.QueryOrder(ctx, orderID)
		if err != nil {
			logging.With(ctx, s.log).Warn().Err(err).Msg("order query failed")
			view.Message = s.msg(r, "query_failed")
		} else if st != p.Status {
			if fresh, err := s.d.Payments.GetPayment(ctx, orderID); err == nil {
				view = toPaymentView(fresh)
			} else {
				view.Status = string(st)
			}
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCancelPayment lets the owner abandon a pending order. The gateway is asked
// first so an order paid in the meantime settles instead of being cancelled.
func (s *Server) handleCancelPayment(w http.ResponseWriter, r *http.Request) {
	ctx, p, ok := s.ownedPayment(w, r)
	if !ok {
		return
	}
	orderID := p.ExternalOrderID
	log := logging.With(ctx, s.log)

	if p.Status != model.PaymentStatusPending {
		s.fail(w, r, http.StatusConflict, "not_cancellable", string(p.Status))
		return
	}
	st, err := s.d.Payments.QueryOrder(ctx, orderID)
	if err != nil {
		log.Warn().Err(err).Msg("order query before cancel failed")
		s.fail(w, r, http.StatusBadGateway, "query_failed")
		return
	}
	if st != model.PaymentStatusPending {
		s.fail(w, r, http.StatusConflict, "not_cancellable", string(st))
		return
	}

	cancelled, err := s.d.Settler.Cancel(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Msg("cancel payment failed")
		s.fail(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	fresh, err := s.d.Payments.GetPayment(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Msg("reload payment failed")
		s.fail(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if !cancelled {
		s.fail(w, r, http.StatusConflict, "not_cancellable", string(fresh.Status))
		return
	}
	log.Info().Msg("payment cancelled by owner")
	writeJSON(w, http.StatusOK, toPaymentView(fresh))
}

func toPaymentView(p *model.Payment) paymentView {
	return paymentView{
		OrderID:           p.ExternalOrderID,
		Status:            string(p.Status),
		Amount:            p.Amount,
		Currency:          p.Currency,
		Method:            string(p.Method),
		Description:       p.Description,
		EntitlementStatus: string(p.EntitlementStatus),
		CreatedAt:         p.CreatedAt,
		CompletedAt:       p.CompletedAt,
	}
}

type subscriptionView struct {
	PlanType string    `json:"plan_type"`
	Status   string    `json:"status"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

type creditPackageView struct {
	PackageID        string    `json:"package_id"`
	CreditsTotal     int64     `json:"credits_total"`
	CreditsRemaining int64     `json:"credits_remaining"`
	ExpiryDate       time.Time `json:"expiry_date"`
}

type entitlementsView struct {
	Plan           *subscriptionView   `json:"plan"`
	CreditPackages []creditPackageView `json:"credit_packages"`
}

func (s *Server) handleEntitlements(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	ctx := logging.WithUserID(r.Context(), userID)
	out := entitlementsView{CreditPackages: []creditPackageView{}}

	sub, err := s.d.Entitlements.GetEffectivePlan(ctx, userID, s.now())
	switch {
	case err == nil:
		out.Plan = &subscriptionView{PlanType: sub.PlanType, Status: string(sub.Status), Start: sub.SubscriptionStart, End: sub.SubscriptionEnd}
	case !errors.Is(err, domain.ErrNotFound):
		logging.With(ctx, s.log).Error().Err(err).Msg("load plan failed")
		s.fail(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	packages, err := s.d.Entitlements.ListCreditPackages(ctx, userID)
	if err != nil {
		logging.With(ctx, s.log).Error().Err(err).Msg("load credit packages failed")
		s.fail(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	for _, c := range packages {
		out.CreditPackages = append(out.CreditPackages, creditPackageView{
			PackageID: c.PackageID, CreditsTotal: c.CreditsTotal, CreditsRemaining: c.CreditsRemaining, ExpiryDate: c.ExpiryDate,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
