package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/adapter"
	ucport "aicode-billing/internal/domain/ports/usecase"
	"aicode-billing/internal/infra/i18n"
	"aicode-billing/internal/usecase"
)

type ProductResolver interface {
	Resolve(product string) (*usecase.Offer, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Entitlements interface {
	GetEffectivePlan(ctx context.Context, userID string, now time.Time) (*model.Subscription, error)
	ListCreditPackages(ctx context.Context, userID string) ([]*model.CreditPackage, error)
}

// Deps are the collaborators of the billing HTTP surface. Limiter and
// Entitlements are optional.
type Deps struct {
	Payments     usecase.PaymentUseCase
	Catalog      ProductResolver
	Settler      ucport.PaymentSettler
	Verifiers    []adapter.CallbackVerifier
	NotifyPaths  map[model.PaymentMethod]string // defaults to DefaultNotifyPath
	Entitlements Entitlements
	Identity     IdentityResolver
	Limiter      RateLimiter
	RateLimit    int // create requests per user per minute
	Messages     *i18n.Bundle
	Timeout      time.Duration
}

type Server struct {
	d   Deps
	log *zerolog.Logger
	now func() time.Time
}

func NewServer(d Deps, logger *zerolog.Logger) *Server {
	if d.Timeout <= 0 {
		d.Timeout = 20 * time.Second
	}
	l := logger.With().Str("component", "api").Logger()
	return &Server{d: d, log: &l, now: time.Now}
}

// Routes builds the router. Notification routes skip bearer auth; they are
// authenticated by the gateway signature instead.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(s.d.Timeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/v1/payments", s.handleCreatePayment)
	r.Get("/api/v1/payments/{orderId}", s.handleGetPayment)
	r.Delete("/api/v1/payments/{orderId}", s.handleCancelPayment)
	if s.d.Entitlements != nil {
		r.Get("/api/v1/entitlements", s.handleEntitlements)
	}
	for _, v := range s.d.Verifiers {
		r.Post(s.notifyPath(v.Method()), s.handleNotify(v))
	}
	return r
}

// notifyPath is where the gateway posts notifications; it must match the notify_url
// sent with each order.
func (s *Server) notifyPath(method model.PaymentMethod) string {
	if p := s.d.NotifyPaths[method]; p != "" {
		return p
	}
	return DefaultNotifyPath(method)
}

func DefaultNotifyPath(method model.PaymentMethod) string {
	return fmt.Sprintf("/api/v1/payments/notify/%s", method)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

func (s *Server) msg(r *http.Request, key string, args ...interface{}) string {
	if s.d.Messages == nil {
		return key
	}
	return s.d.Messages.For(r.Header.Get("Accept-Language")).T(key, args...)
}

// fail writes a localized error keyed by code.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, code string, args ...interface{}) {
	writeError(w, status, code, s.msg(r, code, args...))
}

// NewHTTPServer returns a server with conservative timeouts for handler.
func NewHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
