//go:build !integration

package api

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"aicode-billing/internal/config"
	"aicode-billing/internal/domain"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/adapter"
	ucport "aicode-billing/internal/domain/ports/usecase"
	"aicode-billing/internal/infra/i18n"
	"aicode-billing/internal/usecase"
)

const testSecret = "test-secret"

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func mintToken(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func testCatalog() *usecase.Catalog {
	return usecase.NewCatalog(config.CatalogConfig{
		Plans: map[string]map[string]config.PlanPrice{
			"pro": {"monthly": {Price: 4990, Days: 30, Description: "1 month Pro membership"}},
		},
		CreditPackages: map[string]config.CreditPackageConfig{
			"basic": {Price: 990, Credits: 100, ValidityDays: 30},
		},
	}, "CNY")
}

func testMessages(t *testing.T) *i18n.Bundle {
	t.Helper()
	b, err := i18n.NewBundle(i18n.LocalesFS, "en", "zh")
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	return b
}

type MockPaymentUseCase struct {
	mu                sync.Mutex
	CreatePaymentFunc func(ctx context.Context, in usecase.CreatePaymentInput) (*usecase.CreatePaymentOutput, error)
	QueryOrderFunc    func(ctx context.Context, externalOrderID string) (model.PaymentStatus, error)
	GetPaymentFunc    func(ctx context.Context, externalOrderID string) (*model.Payment, error)
	created           []usecase.CreatePaymentInput
	queried           int
}

func (m *MockPaymentUseCase) CreatePayment(ctx context.Context, in usecase.CreatePaymentInput) (*usecase.CreatePaymentOutput, error) {
	m.mu.Lock()
	m.created = append(m.created, in)
	m.mu.Unlock()
	return m.CreatePaymentFunc(ctx, in)
}

func (m *MockPaymentUseCase) QueryOrder(ctx context.Context, externalOrderID string) (model.PaymentStatus, error) {
	m.mu.Lock()
	m.queried++
	m.mu.Unlock()
	return m.QueryOrderFunc(ctx, externalOrderID)
}

func (m *MockPaymentUseCase) GetPayment(ctx context.Context, externalOrderID string) (*model.Payment, error) {
	if m.GetPaymentFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.GetPaymentFunc(ctx, externalOrderID)
}

type MockSettler struct {
	SettleFunc func(ctx context.Context, method model.PaymentMethod, res adapter.CallbackResult) (*ucport.SettleResult, error)
	CancelFunc func(ctx context.Context, externalOrderID string) (bool, error)
	settled    []adapter.CallbackResult
	cancelled  []string
}

func (m *MockSettler) Settle(ctx context.Context, method model.PaymentMethod, res adapter.CallbackResult) (*ucport.SettleResult, error) {
	m.settled = append(m.settled, res)
	return m.SettleFunc(ctx, method, res)
}

func (m *MockSettler) Cancel(ctx context.Context, externalOrderID string) (bool, error) {
	m.cancelled = append(m.cancelled, externalOrderID)
	if m.CancelFunc == nil {
		return true, nil
	}
	return m.CancelFunc(ctx, externalOrderID)
}

// MockVerifier acks with 200 "ACK" and nacks with the given status and "NACK".
type MockVerifier struct {
	method             model.PaymentMethod
	VerifyCallbackFunc func(ctx context.Context, header http.Header, body []byte) adapter.CallbackResult
}

func (m *MockVerifier) Method() model.PaymentMethod { return m.method }

func (m *MockVerifier) VerifyCallback(ctx context.Context, header http.Header, body []byte) adapter.CallbackResult {
	return m.VerifyCallbackFunc(ctx, header, body)
}

func (m *MockVerifier) Ack(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ACK"))
}

func (m *MockVerifier) Nack(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte("NACK"))
}

type MockLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	keys      []string
}

func (m *MockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.keys = append(m.keys, key)
	return m.AllowFunc(ctx, key, limit, window)
}

type MockEntitlements struct {
	GetEffectivePlanFunc   func(ctx context.Context, userID string, now time.Time) (*model.Subscription, error)
	ListCreditPackagesFunc func(ctx context.Context, userID string) ([]*model.CreditPackage, error)
}

func (m *MockEntitlements) GetEffectivePlan(ctx context.Context, userID string, now time.Time) (*model.Subscription, error) {
	return m.GetEffectivePlanFunc(ctx, userID, now)
}

func (m *MockEntitlements) ListCreditPackages(ctx context.Context, userID string) ([]*model.CreditPackage, error) {
	return m.ListCreditPackagesFunc(ctx, userID)
}
