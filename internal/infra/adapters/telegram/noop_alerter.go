package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"aicode-billing/internal/domain/ports/adapter"
)

var _ adapter.Alerter = (*NoopAlerter)(nil)

// NoopAlerter implements adapter.Alerter for local/dev runs.
// It logs alerts instead of sending real Telegram messages.
type NoopAlerter struct {
	log *zerolog.Logger
}

func NewNoopAlerter(logger *zerolog.Logger) *NoopAlerter {
	l := logger.With().Str("component", "NoopAlerter").Logger()
	return &NoopAlerter{log: &l}
}

func (n *NoopAlerter) Alert(ctx context.Context, text string) error {
	n.log.Warn().Str("alert", text).Msg("operator alert")
	return nil
}
