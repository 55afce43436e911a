package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// AttachVersion is the envelope version written into the gateway echo field.
const AttachVersion = 1

var ErrBadAttach = errors.New("invalid attach envelope")

// attachEnvelope is kept short: WeChat caps attach at 128 bytes.
type attachEnvelope struct {
	V int    `json:"v"`
	K string `json:"k"`           // "sub" | "cp"
	U string `json:"u"`           // user id
	P string `json:"p"`           // plan type or package id
	C string `json:"c,omitempty"` // billing cycle
	D int    `json:"d"`           // cycle days or validity days
	N int64  `json:"n,omitempty"` // credits
}

// Attach is the decoded echo-back blob.
type Attach struct {
	UserID string
	Intent Intent
}

func EncodeAttach(userID string, in Intent) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrBadAttach)
	}
	if err := in.Validate(); err != nil {
		return "", err
	}
	env := attachEnvelope{V: AttachVersion, U: userID}
	switch in.Kind {
	case IntentSubscription:
		env.K = "sub"
		env.P = in.Subscription.PlanType
		env.C = in.Subscription.BillingCycle
		env.D = in.Subscription.BillingCycleDays
	case IntentCreditPackage:
		env.K = "cp"
		env.P = in.CreditPackage.PackageID
		env.D = in.CreditPackage.ValidityDays
		env.N = in.CreditPackage.Credits
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeAttach parses strictly: unknown fields, versions or kinds are rejected.
func DecodeAttach(s string) (*Attach, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.DisallowUnknownFields()
	var env attachEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAttach, err)
	}
	if env.V != AttachVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadAttach, env.V)
	}
	if env.U == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrBadAttach)
	}
	var in Intent
	switch env.K {
	case "sub":
		in = NewSubscriptionIntent(env.P, env.C, env.D)
	case "cp":
		in = NewCreditPackageIntent(env.P, env.N, env.D)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrBadAttach, env.K)
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAttach, err)
	}
	return &Attach{UserID: env.U, Intent: in}, nil
}
