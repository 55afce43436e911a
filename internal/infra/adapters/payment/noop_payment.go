package payment

import (
	"context"
	"fmt"
	"sync"

	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is a simple in-memory gateway used in dev mode and tests.
type NoopPaymentGateway struct {
	method model.PaymentMethod

	mu     sync.Mutex
	seq    int64
	orders map[string]*noopOrder // external order id -> order
}

type noopOrder struct {
	amount int64
	state  adapter.OrderState
	txID   string
}

func NewNoopPaymentGateway(method model.PaymentMethod) *NoopPaymentGateway {
	return &NoopPaymentGateway{
		method: method,
		orders: make(map[string]*noopOrder),
	}
}

func (g *NoopPaymentGateway) Method() model.PaymentMethod { return g.method }

func (g *NoopPaymentGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (*adapter.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.orders[req.ExternalOrderID]; ok {
		return nil, &GatewayError{Gateway: string(g.method), HTTPStatus: 400, Code: "OUT_TRADE_NO_USED", Message: "order id already used"}
	}
	g.orders[req.ExternalOrderID] = &noopOrder{amount: req.Amount, state: adapter.OrderStatePending}

	kind := adapter.TargetRedirectURL
	if g.method == model.PaymentMethodWeChat {
		kind = adapter.TargetQRCode
	}
	return &adapter.OrderResult{
		ExternalOrderID: req.ExternalOrderID,
		RedirectTarget:  "https://example.test/pay/" + req.ExternalOrderID,
		TargetKind:      kind,
	}, nil
}

func (g *NoopPaymentGateway) QueryOrder(ctx context.Context, externalOrderID string) (*adapter.OrderStatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[externalOrderID]
	if !ok {
		return &adapter.OrderStatusResult{State: adapter.OrderStatePending, RawState: "NOT_FOUND"}, nil
	}
	return &adapter.OrderStatusResult{State: o.state, TransactionID: o.txID, RawState: string(o.state), Amount: o.amount}, nil
}

// Complete marks an order paid, as if the buyer had scanned and paid.
func (g *NoopPaymentGateway) Complete(externalOrderID string) (string, error) {
	return g.settle(externalOrderID, adapter.OrderStateCompleted)
}

// Close marks an order closed without payment.
func (g *NoopPaymentGateway) Close(externalOrderID string) error {
	_, err := g.settle(externalOrderID, adapter.OrderStateFailed)
	return err
}

func (g *NoopPaymentGateway) settle(externalOrderID string, to adapter.OrderState) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[externalOrderID]
	if !ok {
		return "", fmt.Errorf("noop: order %s not found", externalOrderID)
	}
	if o.state == adapter.OrderStatePending {
		g.seq++
		o.state = to
		if to == adapter.OrderStateCompleted {
			o.txID = fmt.Sprintf("noop-tx-%d", g.seq)
		}
	}
	return o.txID, nil
}
