// File: internal/infra/security/keys.go
package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoPEMBlock    = errors.New("no PEM block found")
	ErrNotRSAKey     = errors.New("key is not RSA")
	ErrEmptyKeyInput = errors.New("empty key material")
)

// NormalizePrivateKeyPEM turns pasted key material (quoted, escaped "\n", or bare base64) into PEM.
func NormalizePrivateKeyPEM(raw string) string {
	return normalizePEM(raw, "PRIVATE KEY")
}

// NormalizePublicKeyPEM is NormalizePrivateKeyPEM for public keys and certificates.
func NormalizePublicKeyPEM(raw string) string {
	return normalizePEM(raw, "PUBLIC KEY")
}

func normalizePEM(raw, armor string) string {
	s := strings.TrimSpace(raw)
	s = stripQuotes(s)
	s = strings.ReplaceAll(s, `\n`, "\n")

	if strings.Contains(s, "-----BEGIN ") {
		s = strings.ReplaceAll(s, "\r\n", "\n")
		s = strings.ReplaceAll(s, "\r", "\n")
		return s
	}

	body := strings.Join(strings.Fields(s), "")
	var b strings.Builder
	b.WriteString("-----BEGIN " + armor + "-----\n")
	for len(body) > 64 {
		b.WriteString(body[:64])
		b.WriteByte('\n')
		body = body[64:]
	}
	if body != "" {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	b.WriteString("-----END " + armor + "-----\n")
	return b.String()
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

// ParsePrivateKey normalizes raw and parses a PKCS#8 or PKCS#1 RSA private key.
func ParsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyKeyInput
	}
	block, _ := pem.Decode([]byte(NormalizePrivateKeyPEM(raw)))
	if block == nil {
		return nil, ErrNoPEMBlock
	}
	if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrNotRSAKey
		}
		return rk, nil
	}
	k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return k, nil
}

// ParsePublicKey accepts PKIX and PKCS#1 public keys as well as X.509 certificates.
func ParsePublicKey(raw string) (*rsa.PublicKey, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyKeyInput
	}
	block, _ := pem.Decode([]byte(NormalizePublicKeyPEM(raw)))
	if block == nil {
		return nil, ErrNoPEMBlock
	}

	if block.Type == "CERTIFICATE" {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		pk, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, ErrNotRSAKey
		}
		return pk, nil
	}

	if k, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		pk, ok := k.(*rsa.PublicKey)
		if !ok {
			return nil, ErrNotRSAKey
		}
		return pk, nil
	}
	pk, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pk, nil
}
