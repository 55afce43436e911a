package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoIdentity = errors.New("missing or invalid bearer token")

// IdentityResolver maps a request to the authenticated user id.
type IdentityResolver interface {
	UserID(r *http.Request) (string, error)
}

// JWTIdentity verifies HS256 bearer tokens issued by the auth service; the
// subject claim is the user id.
type JWTIdentity struct {
	secret []byte
}

func NewJWTIdentity(secret string) *JWTIdentity {
	return &JWTIdentity{secret: []byte(secret)}
}

func (a *JWTIdentity) UserID(r *http.Request) (string, error) {
	hdr := r.Header.Get("Authorization")
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return "", ErrNoIdentity
	}
	claims := &jwt.RegisteredClaims{}
	tkn, err := jwt.ParseWithClaims(strings.TrimSpace(hdr[7:]), claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tkn.Valid || claims.Subject == "" {
		return "", ErrNoIdentity
	}
	return claims.Subject, nil
}
