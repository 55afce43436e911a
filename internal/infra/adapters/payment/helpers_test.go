//go:build !integration

package payment_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

const testAPIv3Key = "0123456789abcdef0123456789abcdef"

var (
	keysOnce     sync.Once
	merchantKey  *rsa.PrivateKey
	providerKey  *rsa.PrivateKey
	keysGenError error
)

// testKeys returns the merchant key pair and a second pair playing the provider's platform key.
func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keysOnce.Do(func() {
		merchantKey, keysGenError = rsa.GenerateKey(rand.Reader, 2048)
		if keysGenError != nil {
			return
		}
		providerKey, keysGenError = rsa.GenerateKey(rand.Reader, 2048)
	})
	if keysGenError != nil {
		t.Fatalf("generate keys: %v", keysGenError)
	}
	return merchantKey, providerKey
}

func privatePEM(t *testing.T, k *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(k)
	if err != nil {
		t.Fatalf("marshal private: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func publicPEM(t *testing.T, k *rsa.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(k)
	if err != nil {
		t.Fatalf("marshal public: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}
