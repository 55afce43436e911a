// File: internal/infra/security/encryption_service.go
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
)

const gcmTagSize = 16

var ErrEnvelopeTooShort = errors.New("envelope ciphertext too short")

// EnvelopeCipher opens AES-256-GCM notification envelopes keyed by the merchant API-v3 key.
// Wire format: base64(ciphertext || tag), nonce and associated data sent alongside.
type EnvelopeCipher struct {
	key []byte
}

// NewEnvelopeCipher requires a 32-byte key.
func NewEnvelopeCipher(key string) (*EnvelopeCipher, error) {
	k := []byte(key)
	if len(k) != 32 {
		return nil, fmt.Errorf("api v3 key must be 32 bytes; got %d", len(k))
	}
	return &EnvelopeCipher{key: k}, nil
}

func (e *EnvelopeCipher) aead(nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}

// Open decodes ciphertextB64 (trailing 16 bytes are the tag) and authenticates with associatedData.
func (e *EnvelopeCipher) Open(ciphertextB64, nonce, associatedData string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < gcmTagSize {
		return nil, ErrEnvelopeTooShort
	}
	if nonce == "" {
		return nil, errors.New("empty nonce")
	}
	gcm, err := e.aead(len(nonce))
	if err != nil {
		return nil, err
	}
	// Go's GCM expects ciphertext||tag, which is already the wire layout.
	pt, err := gcm.Open(nil, []byte(nonce), data, []byte(associatedData))
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return pt, nil
}

// Seal is the inverse of Open; used by the dev gateway simulator and tests.
func (e *EnvelopeCipher) Seal(plaintext []byte, nonce, associatedData string) (string, error) {
	if nonce == "" {
		return "", errors.New("empty nonce")
	}
	gcm, err := e.aead(len(nonce))
	if err != nil {
		return "", err
	}
	ct := gcm.Seal(nil, []byte(nonce), plaintext, []byte(associatedData))
	return base64.StdEncoding.EncodeToString(ct), nil
}
