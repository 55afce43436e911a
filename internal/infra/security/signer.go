// File: internal/infra/security/signer.go
package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrSignatureMismatch = errors.New("signature mismatch")

// CanonicalMessage builds "method\npath\nts\nnonce\nbody\n". body may be empty.
func CanonicalMessage(method, pathWithQuery string, ts int64, nonce string, body []byte) []byte {
	var b strings.Builder
	b.Grow(len(method) + len(pathWithQuery) + len(nonce) + len(body) + 32)
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(pathWithQuery)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(ts, 10))
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.Write(body)
	b.WriteByte('\n')
	return []byte(b.String())
}

// NotificationMessage builds "ts\nnonce\nbody\n" used by inbound WeChat signatures.
func NotificationMessage(ts, nonce string, body []byte) []byte {
	msg := make([]byte, 0, len(ts)+len(nonce)+len(body)+3)
	msg = append(msg, ts...)
	msg = append(msg, '\n')
	msg = append(msg, nonce...)
	msg = append(msg, '\n')
	msg = append(msg, body...)
	msg = append(msg, '\n')
	return msg
}

// Signature is the material placed into an Authorization header.
type Signature struct {
	Value     string
	Nonce     string
	Timestamp int64
}

// RSASigner signs with RSASSA-PKCS1-v1_5 over SHA-256.
type RSASigner struct {
	key      *rsa.PrivateKey
	serialNo string
}

func NewRSASigner(key *rsa.PrivateKey, serialNo string) (*RSASigner, error) {
	if key == nil {
		return nil, errors.New("signer: nil private key")
	}
	return &RSASigner{key: key, serialNo: serialNo}, nil
}

func (s *RSASigner) SerialNo() string { return s.serialNo }

// Sign returns base64(PKCS1v15(SHA-256(msg))). Deterministic for a given key and msg.
func (s *RSASigner) Sign(msg []byte) (string, error) {
	sum := sha256.Sum256(msg)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, sum[:])
	if err != nil {
		return "", fmt.Errorf("rsa sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (s *RSASigner) SignRequest(method, pathWithQuery string, ts int64, nonce string, body []byte) (Signature, error) {
	v, err := s.Sign(CanonicalMessage(method, pathWithQuery, ts, nonce, body))
	if err != nil {
		return Signature{}, err
	}
	return Signature{Value: v, Nonce: nonce, Timestamp: ts}, nil
}

// WeChatAuthorization renders the WECHATPAY2-SHA256-RSA2048 Authorization header value.
func WeChatAuthorization(mchID string, sig Signature, serialNo string) string {
	return fmt.Sprintf(`WECHATPAY2-SHA256-RSA2048 mchid="%s",nonce_str="%s",signature="%s",timestamp="%d",serial_no="%s"`,
		mchID, sig.Nonce, sig.Value, sig.Timestamp, serialNo)
}

// VerifySHA256WithRSA checks a base64 PKCS1v15/SHA-256 signature over msg.
func VerifySHA256WithRSA(pub *rsa.PublicKey, msg []byte, sigB64 string) error {
	if pub == nil {
		return errors.New("verify: nil public key")
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigB64))
	if err != nil {
		return fmt.Errorf("signature base64: %w", err)
	}
	sum := sha256.Sum256(msg)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], sig); err != nil {
		return ErrSignatureMismatch
	}
	return nil
}
