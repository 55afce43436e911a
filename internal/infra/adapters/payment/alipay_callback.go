// File: internal/infra/adapters/payment/alipay_callback.go
package payment

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"aicode-billing/internal/config"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/adapter"
	"aicode-billing/internal/infra/security"

	"github.com/rs/zerolog"
)

var _ adapter.CallbackVerifier = (*AlipayCallbackVerifier)(nil)

// AlipayCallbackVerifier authenticates form-encoded asynchronous notifications (RSA2).
type AlipayCallbackVerifier struct {
	appID     string
	alipayKey *rsa.PublicKey
	log       *zerolog.Logger
}

func NewAlipayCallbackVerifier(cfg config.AlipayConfig, logger *zerolog.Logger) (*AlipayCallbackVerifier, error) {
	if cfg.AppID == "" {
		return nil, configErr(alipayName, "app_id", nil)
	}
	pub, err := security.ParsePublicKey(cfg.PublicKey)
	if err != nil {
		return nil, configErr(alipayName, "alipay_public_key", err)
	}
	return &AlipayCallbackVerifier{appID: cfg.AppID, alipayKey: pub, log: orNop(logger)}, nil
}

func (v *AlipayCallbackVerifier) Method() model.PaymentMethod { return model.PaymentMethodAlipay }

func (v *AlipayCallbackVerifier) fail(kind VerificationKind, err error) adapter.CallbackResult {
	return adapter.CallbackResult{Err: verifyErr(alipayName, kind, err)}
}

func (v *AlipayCallbackVerifier) VerifyCallback(ctx context.Context, header http.Header, body []byte) (res adapter.CallbackResult) {
	defer func() {
		if r := recover(); r != nil {
			res = v.fail(VerificationUnavailable, fmt.Errorf("panic during verification: %v", r))
		}
	}()

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return v.fail(VerificationMalformed, fmt.Errorf("form body: %w", err))
	}
	sign := values.Get("sign")
	if sign == "" {
		return v.fail(VerificationRejected, errors.New("missing sign"))
	}
	if st := values.Get("sign_type"); st != "" && st != "RSA2" {
		return v.fail(VerificationRejected, fmt.Errorf("unsupported sign_type %q", st))
	}
	if err := security.VerifySHA256WithRSA(v.alipayKey, []byte(SignContent(values)), sign); err != nil {
		return v.fail(VerificationRejected, err)
	}

	if appID := values.Get("app_id"); appID != v.appID {
		return v.fail(VerificationRejected, fmt.Errorf("app_id %q does not match app", appID))
	}
	orderID := values.Get("out_trade_no")
	if orderID == "" {
		return v.fail(VerificationMalformed, errors.New("missing out_trade_no"))
	}

	res = adapter.CallbackResult{
		OrderID:       orderID,
		TransactionID: values.Get("trade_no"),
	}
	if amt := values.Get("total_amount"); amt != "" {
		n, err := ParseMinorUnits(amt)
		if err != nil {
			return v.fail(VerificationMalformed, err)
		}
		res.Amount = n
	}
	if pb := values.Get("passback_params"); pb != "" {
		// passback_params was URL-encoded on the way out; Alipay echoes it verbatim.
		if un, err := url.QueryUnescape(pb); err == nil {
			pb = un
		}
		a, err := model.DecodeAttach(pb)
		if err != nil {
			return v.fail(VerificationMalformed, err)
		}
		res.Attach = a
	}

	status := values.Get("trade_status")
	res.Outcome = AlipayTradeState(status)
	res.Success = res.Outcome == adapter.OrderStateCompleted
	v.log.Debug().Str("order_id", orderID).Str("trade_status", status).Msg("alipay notification verified")
	return res
}

func (v *AlipayCallbackVerifier) Ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("success"))
}

func (v *AlipayCallbackVerifier) Nack(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte("fail"))
}
