//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"aicode-billing/internal/config"
	"aicode-billing/internal/domain"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/adapter"
	"aicode-billing/internal/domain/ports/repository"
	"aicode-billing/internal/usecase"
)

// =============================
// Repositories
// =============================

// ---- Mock PaymentRepository ----

type MockPaymentRepo struct {
	mu    sync.Mutex
	data  map[string]*model.Payment // by id
	byExt map[string]string         // external order id -> id

	SaveFunc                   func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	FindRecentDuplicateFunc    func(ctx context.Context, tx repository.Tx, q repository.DuplicateQuery) (*model.Payment, error)
	MarkCompletedIfPendingFunc func(ctx context.Context, tx repository.Tx, externalOrderID, transactionID string, completedAt time.Time) (*model.Payment, bool, error)
	SetEntitlementStatusFunc   func(ctx context.Context, tx repository.Tx, id string, status model.EntitlementStatus) error
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{data: map[string]*model.Payment{}, byExt: map[string]string{}}
}

func (r *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byExt[p.ExternalOrderID]; ok && id != p.ID {
		return domain.ErrAlreadyExists
	}
	cp := *p
	r.data[p.ID] = &cp
	r.byExt[p.ExternalOrderID] = p.ID
	return nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindByExternalOrderID(ctx context.Context, tx repository.Tx, externalOrderID string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byExt[externalOrderID]; ok {
		cp := *r.data[id]
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindRecentDuplicate(ctx context.Context, tx repository.Tx, q repository.DuplicateQuery) (*model.Payment, error) {
	if r.FindRecentDuplicateFunc != nil {
		return r.FindRecentDuplicateFunc(ctx, tx, q)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Payment
	for _, p := range r.data {
		if p.UserID != q.UserID || p.Amount != q.Amount || p.Currency != q.Currency || p.Method != q.Method {
			continue
		}
		if p.Status != model.PaymentStatusPending && p.Status != model.PaymentStatusCompleted {
			continue
		}
		if p.CreatedAt.Before(q.Since) {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best = p
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *MockPaymentRepo) MarkCompletedIfPending(ctx context.Context, tx repository.Tx, externalOrderID, transactionID string, completedAt time.Time) (*model.Payment, bool, error) {
	if r.MarkCompletedIfPendingFunc != nil {
		return r.MarkCompletedIfPendingFunc(ctx, tx, externalOrderID, transactionID, completedAt)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byExt[externalOrderID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	p := r.data[id]
	if p.Status != model.PaymentStatusPending {
		cp := *p
		return &cp, false, nil
	}
	at := completedAt
	p.Status = model.PaymentStatusCompleted
	p.TransactionID = transactionID
	p.CompletedAt = &at
	p.UpdatedAt = completedAt
	cp := *p
	return &cp, true, nil
}

func (r *MockPaymentRepo) MarkTerminalIfPending(ctx context.Context, tx repository.Tx, externalOrderID string, status model.PaymentStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byExt[externalOrderID]
	if !ok {
		return false, domain.ErrNotFound
	}
	p := r.data[id]
	if p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = status
	return true, nil
}

func (r *MockPaymentRepo) SetEntitlementStatus(ctx context.Context, tx repository.Tx, id string, status model.EntitlementStatus) error {
	if r.SetEntitlementStatusFunc != nil {
		return r.SetEntitlementStatusFunc(ctx, tx, id, status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.EntitlementStatus = status
	return nil
}

func (r *MockPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.data {
		if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPaymentRepo) ListUngrantedCompletedBefore(ctx context.Context, tx repository.Tx, completedBefore time.Time, limit int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.data {
		if p.Status == model.PaymentStatusCompleted && p.EntitlementStatus != model.EntitlementStatusGranted &&
			p.CompletedAt != nil && p.CompletedAt.Before(completedBefore) {
			cp := *p
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPaymentRepo) SumCompletedSince(ctx context.Context, tx repository.Tx, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, p := range r.data {
		if p.Status == model.PaymentStatusCompleted && p.CompletedAt != nil && !p.CompletedAt.Before(since) {
			sum += p.Amount
		}
	}
	return sum, nil
}

// count returns the number of stored payments.
func (r *MockPaymentRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// ---- Mock SubscriptionRepository ----

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	data map[string]*model.Subscription // by id

	SaveFunc     func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
	LockUserFunc func(ctx context.Context, tx repository.Tx, userID string) error
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{data: map[string]*model.Subscription{}}
}

func (r *MockSubscriptionRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	if r.LockUserFunc != nil {
		return r.LockUserFunc(ctx, tx, userID)
	}
	return nil
}

func (r *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.data[s.ID] = &cp
	return nil
}

func (r *MockSubscriptionRepo) FindActiveByUserAndPlan(ctx context.Context, tx repository.Tx, userID, planType string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Subscription
	for _, s := range r.data {
		if s.UserID != userID || s.PlanType != planType || s.Status != model.SubscriptionStatusActive {
			continue
		}
		if best == nil || s.SubscriptionEnd.After(best.SubscriptionEnd) {
			best = s
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *MockSubscriptionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.data {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MockSubscriptionRepo) ExpireEnded(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.data {
		if s.Status == model.SubscriptionStatusActive && s.SubscriptionEnd.Before(now) {
			s.Status = model.SubscriptionStatusExpired
			n++
		}
	}
	return n, nil
}

func (r *MockSubscriptionRepo) all() []*model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.data {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

// ---- Mock CreditPackageRepository ----

type MockCreditPackageRepo struct {
	mu       sync.Mutex
	data     map[string]*model.CreditPackage // by payment id
	inserted int

	CreateFunc func(ctx context.Context, tx repository.Tx, cp *model.CreditPackage) error
}

var _ repository.CreditPackageRepository = (*MockCreditPackageRepo)(nil)

func NewMockCreditPackageRepo() *MockCreditPackageRepo {
	return &MockCreditPackageRepo{data: map[string]*model.CreditPackage{}}
}

func (r *MockCreditPackageRepo) Create(ctx context.Context, tx repository.Tx, cp *model.CreditPackage) error {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, tx, cp)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[cp.PaymentID]; ok {
		return domain.ErrAlreadyExists
	}
	c := *cp
	r.data[cp.PaymentID] = &c
	r.inserted++
	return nil
}

// insertCount returns how many grants were actually stored.
func (r *MockCreditPackageRepo) insertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inserted
}

func (r *MockCreditPackageRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.CreditPackage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cp, ok := r.data[paymentID]; ok {
		c := *cp
		return &c, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockCreditPackageRepo) ListActiveByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.CreditPackage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.CreditPackage
	for _, cp := range r.data {
		if cp.UserID == userID && cp.Status == model.CreditPackageStatusActive {
			c := *cp
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *MockCreditPackageRepo) ExpireEnded(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, cp := range r.data {
		if cp.Status == model.CreditPackageStatusActive && cp.ExpiryDate.Before(now) {
			cp.Status = model.CreditPackageStatusExpired
			n++
		}
	}
	return n, nil
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

type MockPaymentGateway struct {
	mu      sync.Mutex
	method  model.PaymentMethod
	Created []adapter.OrderRequest

	CreateOrderFunc func(ctx context.Context, req adapter.OrderRequest) (*adapter.OrderResult, error)
	QueryOrderFunc  func(ctx context.Context, externalOrderID string) (*adapter.OrderStatusResult, error)
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func NewMockPaymentGateway(method model.PaymentMethod) *MockPaymentGateway {
	return &MockPaymentGateway{method: method}
}

func (m *MockPaymentGateway) Method() model.PaymentMethod { return m.method }

func (m *MockPaymentGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (*adapter.OrderResult, error) {
	m.mu.Lock()
	m.Created = append(m.Created, req)
	m.mu.Unlock()
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, req)
	}
	return &adapter.OrderResult{
		ExternalOrderID: req.ExternalOrderID,
		RedirectTarget:  "weixin://wxpay/bizpayurl?pr=" + req.ExternalOrderID,
		TargetKind:      adapter.TargetQRCode,
	}, nil
}

func (m *MockPaymentGateway) QueryOrder(ctx context.Context, externalOrderID string) (*adapter.OrderStatusResult, error) {
	if m.QueryOrderFunc != nil {
		return m.QueryOrderFunc(ctx, externalOrderID)
	}
	return &adapter.OrderStatusResult{State: adapter.OrderStatePending, RawState: "NOTPAY"}, nil
}

func (m *MockPaymentGateway) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Created)
}

// duplicateIDError mimics a gateway "order id already used" answer.
type duplicateIDError struct{}

func (duplicateIDError) Error() string          { return "OUT_TRADE_NO_USED" }
func (duplicateIDError) DuplicateOrderID() bool { return true }

// ---- Mock Alerter ----

type MockAlerter struct {
	mu   sync.Mutex
	Sent []string

	AlertFunc func(ctx context.Context, text string) error
}

var _ adapter.Alerter = (*MockAlerter)(nil)

func (m *MockAlerter) Alert(ctx context.Context, text string) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, text)
	m.mu.Unlock()
	if m.AlertFunc != nil {
		return m.AlertFunc(ctx, text)
	}
	return nil
}

func (m *MockAlerter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// =============================
// Infra helpers for tests
// =============================

// ---- In-memory SubmissionGuard ----

type MockGuard struct {
	mu   sync.Mutex
	held map[string]time.Time // key -> expiry

	ClaimErr error
}

var _ usecase.SubmissionGuard = (*MockGuard)(nil)

func NewMockGuard() *MockGuard {
	return &MockGuard{held: map[string]time.Time{}}
}

func (g *MockGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, time.Duration, error) {
	if g.ClaimErr != nil {
		return false, 0, g.ClaimErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	if exp, ok := g.held[key]; ok && exp.After(now) {
		return false, exp.Sub(now), nil
	}
	g.held[key] = now.Add(ttl)
	return true, 0, nil
}

func (g *MockGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
	return nil
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// testCatalog carries the pro/monthly and credits/basic fixtures.
func testCatalog() *usecase.Catalog {
	return usecase.NewCatalog(config.CatalogConfig{
		Plans: map[string]map[string]config.PlanPrice{
			"pro": {
				"monthly": {Price: 4990, Days: 30, Description: "1 month Pro membership"},
				"yearly":  {Price: 49900, Days: 365},
			},
			"basic": {
				"monthly": {Price: 1990, Days: 30},
			},
		},
		CreditPackages: map[string]config.CreditPackageConfig{
			"basic": {Price: 990, Credits: 100, ValidityDays: 30},
		},
	}, "CNY")
}
