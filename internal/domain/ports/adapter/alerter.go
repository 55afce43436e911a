package adapter

import "context"

// Alerter notifies operators about payments that need manual reconciliation.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}
