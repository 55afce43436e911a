// File: internal/infra/adapters/payment/wechat_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"aicode-billing/internal/config"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/adapter"
	"aicode-billing/internal/infra/logging"
	"aicode-billing/internal/infra/metrics"
	"aicode-billing/internal/infra/security"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var _ adapter.PaymentGateway = (*WeChatGateway)(nil)

const (
	wechatName           = "wechat"
	wechatNativePath     = "/v3/pay/transactions/native"
	wechatQueryPathFmt   = "/v3/pay/transactions/out-trade-no/%s?mchid=%s"
	wechatMaxAttach      = 128
	wechatMaxDescription = 127
	maxResponseBytes     = 1 << 20
)

// WeChatGateway implements adapter.PaymentGateway against WeChat Pay API v3 native (QR) orders.
type WeChatGateway struct {
	appID             string
	mchID             string
	signer            *security.RSASigner
	baseURL           string
	notifyURL         string
	notFoundAsPending bool
	client            *http.Client
	log               *zerolog.Logger

	now   func() time.Time
	nonce func() string
}

// NewWeChatGateway validates credentials and parses the merchant key up front.
func NewWeChatGateway(cfg config.WeChatConfig, notifyURL string, notFoundAsPending bool, logger *zerolog.Logger) (*WeChatGateway, error) {
	if cfg.AppID == "" {
		return nil, configErr(wechatName, "app_id", nil)
	}
	if cfg.MchID == "" {
		return nil, configErr(wechatName, "mch_id", nil)
	}
	if cfg.SerialNo == "" {
		return nil, configErr(wechatName, "serial_no", nil)
	}
	key, err := security.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, configErr(wechatName, "private_key", err)
	}
	signer, err := security.NewRSASigner(key, cfg.SerialNo)
	if err != nil {
		return nil, configErr(wechatName, "private_key", err)
	}
	if _, err := url.ParseRequestURI(notifyURL); err != nil {
		return nil, configErr(wechatName, "notify_url", err)
	}
	return &WeChatGateway{
		appID:             cfg.AppID,
		mchID:             cfg.MchID,
		signer:            signer,
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		notifyURL:         notifyURL,
		notFoundAsPending: notFoundAsPending,
		client:            &http.Client{Timeout: orDefault(cfg.Timeout, 15*time.Second)},
		log:               orNop(logger),
		now:               time.Now,
		nonce:             func() string { return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")) },
	}, nil
}

func (g *WeChatGateway) Method() model.PaymentMethod { return model.PaymentMethodWeChat }

type wechatAmount struct {
	Total    int64  `json:"total"`
	Currency string `json:"currency,omitempty"`
}

type wechatNativeRequest struct {
	AppID       string       `json:"appid"`
	MchID       string       `json:"mchid"`
	Description string       `json:"description"`
	OutTradeNo  string       `json:"out_trade_no"`
	NotifyURL   string       `json:"notify_url"`
	Attach      string       `json:"attach,omitempty"`
	Amount      wechatAmount `json:"amount"`
}

type wechatNativeResponse struct {
	CodeURL string `json:"code_url"`
}

type wechatQueryResponse struct {
	AppID         string `json:"appid"`
	MchID         string `json:"mchid"`
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	Amount        struct {
		Total      int64 `json:"total"`
		PayerTotal int64 `json:"payer_total"`
	} `json:"amount"`
}

type wechatErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateOrder opens a native order and returns its code_url as a QR target.
func (g *WeChatGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (_ *adapter.OrderResult, err error) {
	defer logging.TraceDuration(g.log, "WeChatGateway.CreateOrder")()
	start := time.Now()
	defer func() { metrics.ObserveGatewayRequest(wechatName, "create", err, time.Since(start)) }()

	if req.ExternalOrderID == "" || req.Amount <= 0 {
		return nil, fmt.Errorf("wechat create order: external order id and positive amount are required")
	}
	attach, err := model.EncodeAttach(req.UserID, req.Intent)
	if err != nil {
		return nil, err
	}
	if len(attach) > wechatMaxAttach {
		return nil, fmt.Errorf("wechat create order: attach is %d bytes, limit %d", len(attach), wechatMaxAttach)
	}
	currency := req.Currency
	if currency == "" {
		currency = "CNY"
	}

	body, err := json.Marshal(wechatNativeRequest{
		AppID:       g.appID,
		MchID:       g.mchID,
		Description: truncateUTF8(req.Description, wechatMaxDescription),
		OutTradeNo:  req.ExternalOrderID,
		NotifyURL:   g.notifyURL,
		Attach:      attach,
		Amount:      wechatAmount{Total: req.Amount, Currency: currency},
	})
	if err != nil {
		return nil, err
	}

	var out wechatNativeResponse
	if err := g.do(ctx, http.MethodPost, wechatNativePath, body, &out); err != nil {
		return nil, err
	}
	if out.CodeURL == "" {
		return nil, &GatewayError{Gateway: wechatName, HTTPStatus: http.StatusOK, Code: "EMPTY_CODE_URL", Message: "response carried no code_url"}
	}
	g.log.Debug().Str("order_id", req.ExternalOrderID).Msg("wechat native order created")
	return &adapter.OrderResult{
		ExternalOrderID: req.ExternalOrderID,
		RedirectTarget:  out.CodeURL,
		TargetKind:      adapter.TargetQRCode,
	}, nil
}

// QueryOrder looks the order up by merchant order id.
func (g *WeChatGateway) QueryOrder(ctx context.Context, externalOrderID string) (_ *adapter.OrderStatusResult, err error) {
	defer logging.TraceDuration(g.log, "WeChatGateway.QueryOrder")()
	start := time.Now()
	defer func() { metrics.ObserveGatewayRequest(wechatName, "query", err, time.Since(start)) }()

	path := fmt.Sprintf(wechatQueryPathFmt, url.PathEscape(externalOrderID), url.QueryEscape(g.mchID))
	var out wechatQueryResponse
	if err := g.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		var ge *GatewayError
		if g.notFoundAsPending && errors.As(err, &ge) && (ge.HTTPStatus == http.StatusNotFound || ge.Code == "ORDER_NOT_EXIST") {
			return &adapter.OrderStatusResult{State: adapter.OrderStatePending, RawState: "ORDER_NOT_EXIST"}, nil
		}
		return nil, err
	}
	return &adapter.OrderStatusResult{
		State:         WeChatTradeState(out.TradeState),
		TransactionID: out.TransactionID,
		RawState:      out.TradeState,
		Amount:        out.Amount.Total,
	}, nil
}

// WeChatTradeState maps trade_state onto the provider-agnostic vocabulary.
// A refunded order was paid first, so REFUND counts as completed.
func WeChatTradeState(s string) adapter.OrderState {
	switch s {
	case "SUCCESS", "REFUND":
		return adapter.OrderStateCompleted
	case "CLOSED", "REVOKED", "PAYERROR":
		return adapter.OrderStateFailed
	default: // NOTPAY, USERPAYING, ACCEPT
		return adapter.OrderStatePending
	}
}

// do signs exactly the bytes it sends.
func (g *WeChatGateway) do(ctx context.Context, method, pathWithQuery string, body []byte, out any) error {
	ts := g.now().Unix()
	sig, err := g.signer.SignRequest(method, pathWithQuery, ts, g.nonce(), body)
	if err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+pathWithQuery, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", security.WeChatAuthorization(g.mchID, sig, g.signer.SerialNo()))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "aicode-billing")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return &GatewayError{Gateway: wechatName, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &GatewayError{Gateway: wechatName, HTTPStatus: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb wechatErrorBody
		_ = json.Unmarshal(raw, &eb)
		return &GatewayError{Gateway: wechatName, HTTPStatus: resp.StatusCode, Code: eb.Code, Message: eb.Message}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &GatewayError{Gateway: wechatName, HTTPStatus: resp.StatusCode, Code: "BAD_RESPONSE", Message: err.Error()}
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func orNop(l *zerolog.Logger) *zerolog.Logger {
	if l == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return l
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
