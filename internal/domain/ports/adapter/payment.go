package adapter

import (
	"context"
	"net/http"

	"aicode-billing/internal/domain/model"
)

// CheckoutMode selects how the page-redirect gateway hands the buyer over.
type CheckoutMode string

const (
	CheckoutModeDefault  CheckoutMode = ""
	CheckoutModeRedirect CheckoutMode = "redirect" // browser redirect URL
	CheckoutModeForm     CheckoutMode = "form"     // auto-submitting HTML form
)

// TargetKind describes RedirectTarget.
type TargetKind string

const (
	TargetQRCode      TargetKind = "qr_code"
	TargetRedirectURL TargetKind = "redirect_url"
	TargetHTMLForm    TargetKind = "html_form"
)

// OrderState is the provider-agnostic order status.
type OrderState string

const (
	OrderStatePending   OrderState = "pending"
	OrderStateCompleted OrderState = "completed"
	OrderStateFailed    OrderState = "failed"
)

type OrderRequest struct {
	ExternalOrderID string
	Amount          int64 // minor units
	Currency        string
	UserID          string
	Description     string
	Intent          model.Intent
	Mode            CheckoutMode
}

type OrderResult struct {
	ExternalOrderID string
	RedirectTarget  string
	TargetKind      TargetKind
}

type OrderStatusResult struct {
	State         OrderState
	TransactionID string
	RawState      string // provider vocabulary, for logs
	Amount        int64  // paid total in minor units when reported
}

// PaymentGateway is the hex port for outbound gateway calls.
type PaymentGateway interface {
	Method() model.PaymentMethod
	// CreateOrder opens an order under req.ExternalOrderID and returns where to send the buyer.
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	// QueryOrder maps the provider's status; an unknown order is reported as pending.
	QueryOrder(ctx context.Context, externalOrderID string) (*OrderStatusResult, error)
}

// CallbackResult is the uniform outcome of webhook verification.
// Success is true only for a verified, paid notification.
type CallbackResult struct {
	Success       bool
	OrderID       string
	TransactionID string
	Outcome       OrderState
	Amount        int64
	Attach        *model.Attach
	Err           error
}

// CallbackVerifier authenticates an inbound notification. It never panics and
// never returns an error outside of the result.
type CallbackVerifier interface {
	Method() model.PaymentMethod
	VerifyCallback(ctx context.Context, header http.Header, body []byte) CallbackResult
	// Ack and Nack render the provider-specific acknowledgement.
	Ack(w http.ResponseWriter)
	Nack(w http.ResponseWriter, status int, msg string)
}
