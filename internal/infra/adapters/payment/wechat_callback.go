// File: internal/infra/adapters/payment/wechat_callback.go
package payment

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"aicode-billing/internal/config"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/adapter"
	"aicode-billing/internal/infra/security"

	"github.com/rs/zerolog"
)

var _ adapter.CallbackVerifier = (*WeChatCallbackVerifier)(nil)

const (
	wechatEventSuccess = "TRANSACTION.SUCCESS"
	wechatAlgorithm    = "AEAD_AES_256_GCM"
	wechatMaxSkew      = 5 * time.Minute
)

// WeChatCallbackVerifier authenticates TRANSACTION.* notifications.
// The header signature check runs only when a platform public key is configured;
// the AEAD envelope is always authenticated.
type WeChatCallbackVerifier struct {
	appID          string
	mchID          string
	cipher         *security.EnvelopeCipher
	platformKey    *rsa.PublicKey
	platformSerial string
	log            *zerolog.Logger
	now            func() time.Time
}

func NewWeChatCallbackVerifier(cfg config.WeChatConfig, logger *zerolog.Logger) (*WeChatCallbackVerifier, error) {
	if cfg.MchID == "" {
		return nil, configErr(wechatName, "mch_id", nil)
	}
	c, err := security.NewEnvelopeCipher(cfg.APIv3Key)
	if err != nil {
		return nil, configErr(wechatName, "api_v3_key", err)
	}
	v := &WeChatCallbackVerifier{
		appID:          cfg.AppID,
		mchID:          cfg.MchID,
		cipher:         c,
		platformSerial: cfg.PlatformSerial,
		log:            orNop(logger),
		now:            time.Now,
	}
	if cfg.PlatformPublicKey != "" {
		pk, err := security.ParsePublicKey(cfg.PlatformPublicKey)
		if err != nil {
			return nil, configErr(wechatName, "platform_public_key", err)
		}
		v.platformKey = pk
	}
	return v, nil
}

func (v *WeChatCallbackVerifier) Method() model.PaymentMethod { return model.PaymentMethodWeChat }

type wechatNotification struct {
	ID           string `json:"id"`
	CreateTime   string `json:"create_time"`
	EventType    string `json:"event_type"`
	ResourceType string `json:"resource_type"`
	Resource     struct {
		Algorithm      string `json:"algorithm"`
		Ciphertext     string `json:"ciphertext"`
		Nonce          string `json:"nonce"`
		AssociatedData string `json:"associated_data"`
		OriginalType   string `json:"original_type"`
	} `json:"resource"`
}

type wechatTransaction struct {
	AppID         string `json:"appid"`
	MchID         string `json:"mchid"`
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	Attach        string `json:"attach"`
	Amount        struct {
		Total      int64  `json:"total"`
		PayerTotal int64  `json:"payer_total"`
		Currency   string `json:"currency"`
	} `json:"amount"`
}

func (v *WeChatCallbackVerifier) fail(kind VerificationKind, err error) adapter.CallbackResult {
	return adapter.CallbackResult{Err: verifyErr(wechatName, kind, err)}
}

// VerifyCallback never panics; every failure is carried in the result.
func (v *WeChatCallbackVerifier) VerifyCallback(ctx context.Context, header http.Header, body []byte) (res adapter.CallbackResult) {
	defer func() {
		if r := recover(); r != nil {
			res = v.fail(VerificationUnavailable, fmt.Errorf("panic during verification: %v", r))
		}
	}()

	if v.platformKey != nil {
		if kind, err := v.checkSignature(header, body); err != nil {
			return v.fail(kind, err)
		}
	}

	var n wechatNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return v.fail(VerificationMalformed, fmt.Errorf("notification json: %w", err))
	}
	r := n.Resource
	if n.EventType == "" || r.Ciphertext == "" || r.Nonce == "" {
		return v.fail(VerificationMalformed, errors.New("notification missing event_type or resource"))
	}
	if r.Algorithm != "" && r.Algorithm != wechatAlgorithm {
		return v.fail(VerificationMalformed, fmt.Errorf("unsupported algorithm %q", r.Algorithm))
	}

	plain, err := v.cipher.Open(r.Ciphertext, r.Nonce, r.AssociatedData)
	if err != nil {
		return v.fail(VerificationUnavailable, err)
	}

	var tx wechatTransaction
	if err := json.Unmarshal(plain, &tx); err != nil {
		return v.fail(VerificationMalformed, fmt.Errorf("transaction json: %w", err))
	}
	if tx.OutTradeNo == "" {
		return v.fail(VerificationMalformed, errors.New("transaction missing out_trade_no"))
	}
	if tx.MchID != "" && tx.MchID != v.mchID {
		return v.fail(VerificationRejected, fmt.Errorf("mchid %q does not match merchant", tx.MchID))
	}
	if v.appID != "" && tx.AppID != "" && tx.AppID != v.appID {
		return v.fail(VerificationRejected, fmt.Errorf("appid %q does not match app", tx.AppID))
	}

	res = adapter.CallbackResult{
		OrderID:       tx.OutTradeNo,
		TransactionID: tx.TransactionID,
		Amount:        tx.Amount.Total,
	}
	if tx.Attach != "" {
		a, err := model.DecodeAttach(tx.Attach)
		if err != nil {
			return v.fail(VerificationMalformed, err)
		}
		res.Attach = a
	}

	res.Success = n.EventType == wechatEventSuccess && tx.TradeState == "SUCCESS"
	switch {
	case res.Success:
		res.Outcome = adapter.OrderStateCompleted
	case WeChatTradeState(tx.TradeState) == adapter.OrderStateFailed:
		res.Outcome = adapter.OrderStateFailed
	default:
		res.Outcome = adapter.OrderStatePending
	}
	v.log.Debug().Str("order_id", tx.OutTradeNo).Str("event_type", n.EventType).Str("trade_state", tx.TradeState).Msg("wechat notification verified")
	return res
}

func (v *WeChatCallbackVerifier) checkSignature(header http.Header, body []byte) (VerificationKind, error) {
	ts := header.Get("Wechatpay-Timestamp")
	nonce := header.Get("Wechatpay-Nonce")
	sig := header.Get("Wechatpay-Signature")
	if ts == "" || nonce == "" || sig == "" {
		return VerificationRejected, errors.New("missing Wechatpay signature headers")
	}
	if v.platformSerial != "" && header.Get("Wechatpay-Serial") != v.platformSerial {
		return VerificationRejected, fmt.Errorf("unexpected platform serial %q", header.Get("Wechatpay-Serial"))
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return VerificationMalformed, fmt.Errorf("bad Wechatpay-Timestamp: %w", err)
	}
	skew := v.now().Sub(time.Unix(sec, 0))
	if skew > wechatMaxSkew || skew < -wechatMaxSkew {
		return VerificationRejected, fmt.Errorf("timestamp outside allowed skew: %s", skew)
	}
	if err := security.VerifySHA256WithRSA(v.platformKey, security.NotificationMessage(ts, nonce, body), sig); err != nil {
		return VerificationRejected, err
	}
	return "", nil
}

func (v *WeChatCallbackVerifier) Ack(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, wechatErrorBody{Code: "SUCCESS", Message: "成功"})
}

func (v *WeChatCallbackVerifier) Nack(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wechatErrorBody{Code: "FAIL", Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
