package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")

	// Payments
	ErrDuplicateRequest   = errors.New("duplicate payment request")
	ErrInvalidTransition  = errors.New("invalid payment status transition")
	ErrUnknownMethod      = errors.New("unknown payment method")
	ErrInvalidIntent      = errors.New("invalid payment intent")
	ErrEntitlementPending = errors.New("entitlement pending manual reconciliation")
	ErrOrderOwnerMismatch = errors.New("order does not belong to user")
	ErrUnknownProduct     = errors.New("unknown product")
	ErrRateLimited        = errors.New("too many requests")
)
