package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type Expirer interface {
	FinishExpired(ctx context.Context, now time.Time) (subs, packages int, err error)
}

// ExpiryWorker periodically flips ended subscriptions and credit packages to expired.
type ExpiryWorker struct {
	interval time.Duration
	uc       Expirer
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, uc Expirer, logger *zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval: interval,
		uc:       uc,
		log:      &exprLog,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting expiry worker")
	// once on startup, then on every tick
	w.runOnce(ctx, time.Now())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case now := <-ticker.C:
			w.runOnce(ctx, now)
		}
	}
}

func (w *ExpiryWorker) runOnce(ctx context.Context, now time.Time) {
	subs, packages, err := w.uc.FinishExpired(ctx, now)
	if err != nil {
		w.log.Error().Err(err).Msg("expiry worker error")
	}
	if subs > 0 || packages > 0 {
		w.log.Info().Int("subscriptions", subs).Int("credit_packages", packages).Msg("expired entitlements finished")
	}
}
