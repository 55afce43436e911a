// File: internal/infra/adapters/payment/alipay_gateway.go
package payment

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"aicode-billing/internal/config"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/adapter"
	"aicode-billing/internal/infra/logging"
	"aicode-billing/internal/infra/metrics"
	"aicode-billing/internal/infra/security"

	"github.com/rs/zerolog"
)

var _ adapter.PaymentGateway = (*AlipayGateway)(nil)

const (
	alipayName         = "alipay"
	alipayPagePay      = "alipay.trade.page.pay"
	alipayTradeQuery   = "alipay.trade.query"
	alipayQueryNode    = "alipay_trade_query_response"
	alipayProductCode  = "FAST_INSTANT_TRADE_PAY"
	alipayTimeLayout   = "2006-01-02 15:04:05"
	alipaySuccessCode  = "10000"
	alipayNotExistCode = "ACQ.TRADE_NOT_EXIST"
)

// Alipay timestamps are Beijing time.
var beijing = time.FixedZone("CST", 8*3600)

var autoSubmitForm = template.Must(template.New("alipay").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body>
<form id="alipaysubmit" name="alipaysubmit" action="{{.Action}}" method="POST">
{{range .Fields}}<input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{end}}<input type="submit" value="Pay" style="display:none">
</form>
<script>document.forms['alipaysubmit'].submit();</script>
</body></html>`))

type formField struct {
	Name  string
	Value string
}

// AlipayGateway implements adapter.PaymentGateway for Alipay page pay (RSA2).
// Order creation is local: the buyer's browser carries the signed request to Alipay.
type AlipayGateway struct {
	appID             string
	signer            *security.RSASigner
	alipayKey         *rsa.PublicKey
	gatewayURL        string
	notifyURL         string
	returnURL         string
	notFoundAsPending bool
	client            *http.Client
	log               *zerolog.Logger
	now               func() time.Time
}

func NewAlipayGateway(cfg config.AlipayConfig, notifyURL, returnURL string, notFoundAsPending bool, logger *zerolog.Logger) (*AlipayGateway, error) {
	if cfg.AppID == "" {
		return nil, configErr(alipayName, "app_id", nil)
	}
	key, err := security.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, configErr(alipayName, "private_key", err)
	}
	signer, err := security.NewRSASigner(key, "")
	if err != nil {
		return nil, configErr(alipayName, "private_key", err)
	}
	pub, err := security.ParsePublicKey(cfg.PublicKey)
	if err != nil {
		return nil, configErr(alipayName, "alipay_public_key", err)
	}
	if _, err := url.ParseRequestURI(cfg.GatewayURL); err != nil {
		return nil, configErr(alipayName, "gateway_url", err)
	}
	if _, err := url.ParseRequestURI(notifyURL); err != nil {
		return nil, configErr(alipayName, "notify_url", err)
	}
	return &AlipayGateway{
		appID:             cfg.AppID,
		signer:            signer,
		alipayKey:         pub,
		gatewayURL:        cfg.GatewayURL,
		notifyURL:         notifyURL,
		returnURL:         returnURL,
		notFoundAsPending: notFoundAsPending,
		client:            &http.Client{Timeout: orDefault(cfg.Timeout, 15*time.Second)},
		log:               orNop(logger),
		now:               time.Now,
	}, nil
}

func (g *AlipayGateway) Method() model.PaymentMethod { return model.PaymentMethodAlipay }

type alipayPageBiz struct {
	OutTradeNo     string `json:"out_trade_no"`
	ProductCode    string `json:"product_code"`
	TotalAmount    string `json:"total_amount"`
	Subject        string `json:"subject"`
	PassbackParams string `json:"passback_params,omitempty"`
}

// CreateOrder signs an alipay.trade.page.pay request and returns it as a redirect URL or an auto-submit form.
func (g *AlipayGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (_ *adapter.OrderResult, err error) {
	defer logging.TraceDuration(g.log, "AlipayGateway.CreateOrder")()
	start := time.Now()
	defer func() { metrics.ObserveGatewayRequest(alipayName, "create", err, time.Since(start)) }()

	if req.ExternalOrderID == "" || req.Amount <= 0 {
		return nil, fmt.Errorf("alipay create order: external order id and positive amount are required")
	}
	if req.Currency != "" && req.Currency != "CNY" {
		return nil, fmt.Errorf("alipay create order: unsupported currency %q", req.Currency)
	}
	attach, err := model.EncodeAttach(req.UserID, req.Intent)
	if err != nil {
		return nil, err
	}
	subject := req.Description
	if subject == "" {
		subject = req.ExternalOrderID
	}
	biz, err := json.Marshal(alipayPageBiz{
		OutTradeNo:     req.ExternalOrderID,
		ProductCode:    alipayProductCode,
		TotalAmount:    FormatMinorUnits(req.Amount),
		Subject:        subject,
		PassbackParams: url.QueryEscape(attach),
	})
	if err != nil {
		return nil, err
	}

	params := g.commonParams(alipayPagePay, string(biz))
	params.Set("notify_url", g.notifyURL)
	if g.returnURL != "" {
		params.Set("return_url", g.returnURL)
	}
	if err := g.sign(params); err != nil {
		return nil, err
	}

	if req.Mode == adapter.CheckoutModeForm {
		html, err := renderForm(g.gatewayURL+"?charset=utf-8", params)
		if err != nil {
			return nil, err
		}
		return &adapter.OrderResult{ExternalOrderID: req.ExternalOrderID, RedirectTarget: html, TargetKind: adapter.TargetHTMLForm}, nil
	}
	return &adapter.OrderResult{
		ExternalOrderID: req.ExternalOrderID,
		RedirectTarget:  g.gatewayURL + "?" + params.Encode(),
		TargetKind:      adapter.TargetRedirectURL,
	}, nil
}

type alipayQueryResponse struct {
	Code        string `json:"code"`
	Msg         string `json:"msg"`
	SubCode     string `json:"sub_code"`
	SubMsg      string `json:"sub_msg"`
	TradeNo     string `json:"trade_no"`
	OutTradeNo  string `json:"out_trade_no"`
	TradeStatus string `json:"trade_status"`
	TotalAmount string `json:"total_amount"`
}

// QueryOrder calls alipay.trade.query and verifies the response node signature.
func (g *AlipayGateway) QueryOrder(ctx context.Context, externalOrderID string) (_ *adapter.OrderStatusResult, err error) {
	defer logging.TraceDuration(g.log, "AlipayGateway.QueryOrder")()
	start := time.Now()
	defer func() { metrics.ObserveGatewayRequest(alipayName, "query", err, time.Since(start)) }()

	biz, err := json.Marshal(map[string]string{"out_trade_no": externalOrderID})
	if err != nil {
		return nil, err
	}
	params := g.commonParams(alipayTradeQuery, string(biz))
	if err := g.sign(params); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.gatewayURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &GatewayError{Gateway: alipayName, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &GatewayError{Gateway: alipayName, HTTPStatus: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &GatewayError{Gateway: alipayName, HTTPStatus: resp.StatusCode, Message: string(bytes.TrimSpace(raw))}
	}

	node, sign, err := splitSignedNode(raw, alipayQueryNode)
	if err != nil {
		return nil, &GatewayError{Gateway: alipayName, HTTPStatus: resp.StatusCode, Code: "BAD_RESPONSE", Message: err.Error()}
	}
	var out alipayQueryResponse
	if err := json.Unmarshal(node, &out); err != nil {
		return nil, &GatewayError{Gateway: alipayName, HTTPStatus: resp.StatusCode, Code: "BAD_RESPONSE", Message: err.Error()}
	}
	// Alipay may leave error responses unsigned; a success must always be signed.
	if sign != "" || out.Code == alipaySuccessCode {
		if err := security.VerifySHA256WithRSA(g.alipayKey, node, sign); err != nil {
			return nil, &GatewayError{Gateway: alipayName, HTTPStatus: resp.StatusCode, Code: "BAD_SIGNATURE", Message: err.Error()}
		}
	}

	if out.Code != alipaySuccessCode {
		if g.notFoundAsPending && out.SubCode == alipayNotExistCode {
			return &adapter.OrderStatusResult{State: adapter.OrderStatePending, RawState: alipayNotExistCode}, nil
		}
		code, msg := out.SubCode, out.SubMsg
		if code == "" {
			code, msg = out.Code, out.Msg
		}
		return nil, &GatewayError{Gateway: alipayName, HTTPStatus: resp.StatusCode, Code: code, Message: msg}
	}

	amount, _ := ParseMinorUnits(out.TotalAmount)
	return &adapter.OrderStatusResult{
		State:         AlipayTradeState(out.TradeStatus),
		TransactionID: out.TradeNo,
		RawState:      out.TradeStatus,
		Amount:        amount,
	}, nil
}

// AlipayTradeState maps trade_status onto the provider-agnostic vocabulary.
func AlipayTradeState(s string) adapter.OrderState {
	switch s {
	case "TRADE_SUCCESS", "TRADE_FINISHED", "SUCCESS", "FINISHED":
		return adapter.OrderStateCompleted
	case "TRADE_CLOSED":
		return adapter.OrderStateFailed
	default: // WAIT_BUYER_PAY
		return adapter.OrderStatePending
	}
}

func (g *AlipayGateway) commonParams(method, bizContent string) url.Values {
	v := url.Values{}
	v.Set("app_id", g.appID)
	v.Set("method", method)
	v.Set("format", "JSON")
	v.Set("charset", "utf-8")
	v.Set("sign_type", "RSA2")
	v.Set("timestamp", g.now().In(beijing).Format(alipayTimeLayout))
	v.Set("version", "1.0")
	v.Set("biz_content", bizContent)
	return v
}

func (g *AlipayGateway) sign(params url.Values) error {
	sig, err := g.signer.Sign([]byte(SignContent(params)))
	if err != nil {
		return err
	}
	params.Set("sign", sig)
	return nil
}

// SignContent sorts keys and joins non-empty "k=v" pairs with "&", skipping sign and sign_type.
// The same rule serves outbound requests (where sign is not yet set) and inbound notifications.
func SignContent(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "sign" || k == "sign_type" {
			continue
		}
		if values.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values.Get(k))
	}
	return b.String()
}

// splitSignedNode returns the exact bytes of the named response node plus the sibling sign.
func splitSignedNode(raw []byte, node string) ([]byte, string, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, "", err
	}
	body, ok := envelope[node]
	if !ok {
		if e, ok := envelope["error_response"]; ok {
			body = e
		} else {
			return nil, "", fmt.Errorf("response missing %s", node)
		}
	}
	var sign string
	if s, ok := envelope["sign"]; ok {
		if err := json.Unmarshal(s, &sign); err != nil {
			return nil, "", err
		}
	}
	return body, sign, nil
}

func renderForm(action string, params url.Values) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]formField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, formField{Name: k, Value: params.Get(k)})
	}
	var buf bytes.Buffer
	if err := autoSubmitForm.Execute(&buf, struct {
		Action string
		Fields []formField
	}{Action: action, Fields: fields}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatMinorUnits renders fen as a yuan decimal string ("4990" -> "49.90").
func FormatMinorUnits(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// ParseMinorUnits parses a yuan decimal string into fen.
func ParseMinorUnits(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimals", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	return w*100 + f, nil
}
