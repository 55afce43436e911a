// File: internal/infra/adapters/payment/errors.go
package payment

import (
	"errors"
	"fmt"
	"net/http"
)

// ConfigurationError is returned by gateway constructors when credentials or keys are unusable.
type ConfigurationError struct {
	Gateway string
	Field   string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: invalid configuration: %s", e.Gateway, e.Field)
	}
	return fmt.Sprintf("%s: invalid configuration: %s: %v", e.Gateway, e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErr(gateway, field string, err error) error {
	return &ConfigurationError{Gateway: gateway, Field: field, Err: err}
}

// GatewayError is a non-success answer (or transport failure) from a provider.
// HTTPStatus is 0 for transport errors.
type GatewayError struct {
	Gateway    string
	HTTPStatus int
	Code       string
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s gateway: %v", e.Gateway, e.Err)
	case e.Code != "":
		return fmt.Sprintf("%s gateway: http %d: %s: %s", e.Gateway, e.HTTPStatus, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s gateway: http %d", e.Gateway, e.HTTPStatus)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable reports transport failures, 5xx and provider-side busy codes.
func (e *GatewayError) Retryable() bool {
	if e.HTTPStatus == 0 || e.HTTPStatus >= http.StatusInternalServerError || e.HTTPStatus == http.StatusTooManyRequests {
		return true
	}
	switch e.Code {
	case "SYSTEM_ERROR", "FREQUENCY_LIMITED", "ACQ.SYSTEM_ERROR", "aop.SYSTEM_ERROR":
		return true
	}
	return false
}

// DuplicateOrderID reports that the provider already knows this merchant order id.
func (e *GatewayError) DuplicateOrderID() bool {
	switch e.Code {
	case "OUT_TRADE_NO_USED", "ACQ.TRADE_HAS_SUCCESS", "ACQ.TRADE_HAS_CLOSE":
		return true
	}
	return false
}

// IsDuplicateOrderID unwraps err looking for a duplicate order id GatewayError.
func IsDuplicateOrderID(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.DuplicateOrderID()
}

// VerificationKind classifies callback rejections; it selects the HTTP status of the nack.
type VerificationKind string

const (
	VerificationMalformed   VerificationKind = "malformed"   // unparsable body, bad attach, missing fields
	VerificationRejected    VerificationKind = "rejected"    // signature or app id mismatch, stale timestamp
	VerificationUnavailable VerificationKind = "unavailable" // decrypt failure or missing key
)

type VerificationError struct {
	Gateway string
	Kind    VerificationKind
	Err     error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s callback %s: %v", e.Gateway, e.Kind, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// HTTPStatus maps Kind to the status returned to the provider.
func (e *VerificationError) HTTPStatus() int {
	switch e.Kind {
	case VerificationMalformed:
		return http.StatusBadRequest
	case VerificationRejected:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func verifyErr(gateway string, kind VerificationKind, err error) error {
	return &VerificationError{Gateway: gateway, Kind: kind, Err: err}
}
