package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/repository"
	ucport "aicode-billing/internal/domain/ports/usecase"
	"aicode-billing/internal/infra/logging"
	"aicode-billing/internal/infra/metrics"
)

// OrderQuerier asks the gateway about a pending order and settles it when the
// gateway has a final answer.
type OrderQuerier interface {
	QueryOrder(ctx context.Context, externalOrderID string) (model.PaymentStatus, error)
}

// EntitlementRetrier grants the entitlement of a completed payment that has none recorded.
type EntitlementRetrier interface {
	RetryEntitlement(ctx context.Context, paymentID string) (*ucport.SettleResult, error)
}

// revenueWindow is the span reported by the completed-amount gauge.
const revenueWindow = 24 * time.Hour

// PaymentReconciler periodically queries the gateway about stale pending payments
// (lost notifications) and retries grants for completed payments that never
// recorded one (crash or outage between completion and grant).
type PaymentReconciler struct {
	orders     OrderQuerier
	grants     EntitlementRetrier
	payments   repository.PaymentRepository
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending payment must be to retry
	batch      int
	log        *zerolog.Logger
	now        func() time.Time
}

// NewPaymentReconciler wires the reconciler. grants may be nil to skip grant repair.
func NewPaymentReconciler(orders OrderQuerier, grants EntitlementRetrier, payments repository.PaymentRepository, interval, staleAfter time.Duration, batch int, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if batch <= 0 {
		batch = 200
	}
	compLog := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{
		orders:     orders,
		grants:     grants,
		payments:   payments,
		interval:   interval,
		staleAfter: staleAfter,
		batch:      batch,
		log:        &compLog,
		now:        time.Now,
	}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting payment reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-t.C:
			runCtx, cancel := context.WithTimeout(ctx, w.interval)
			w.Tick(runCtx)
			w.RepairGrants(runCtx)
			w.ReportRevenue(runCtx)
			cancel()
		}
	}
}

// Tick runs one reconciliation pass and returns how many payments left pending.
func (w *PaymentReconciler) Tick(ctx context.Context) int {
	cutoff := w.now().Add(-w.staleAfter)
	pending, err := w.payments.ListPendingOlderThan(ctx, nil, cutoff, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("list pending payments failed")
		return 0
	}
	settled := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		log := logging.With(logging.WithOrderID(ctx, p.ExternalOrderID), w.log)
		st, err := w.orders.QueryOrder(ctx, p.ExternalOrderID)
		if err != nil {
			metrics.IncReconciled("error")
			log.Warn().Err(err).Str("payment_id", p.ID).Msg("reconcile query failed")
			continue
		}
		metrics.IncReconciled(string(st))
		if st != model.PaymentStatusPending {
			settled++
			log.Info().Str("payment_id", p.ID).Str("status", string(st)).Msg("payment reconciled")
		}
	}
	if settled > 0 {
		w.log.Info().Int("scanned", len(pending)).Int("settled", settled).Msg("reconcile pass done")
	}
	return settled
}

// RepairGrants retries grants for completed payments older than staleAfter whose
// entitlement is not recorded as granted. It returns how many were granted.
func (w *PaymentReconciler) RepairGrants(ctx context.Context) int {
	if w.grants == nil {
		return 0
	}
	cutoff := w.now().Add(-w.staleAfter)
	ungranted, err := w.payments.ListUngrantedCompletedBefore(ctx, nil, cutoff, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("list ungranted payments failed")
		return 0
	}
	granted := 0
	for _, p := range ungranted {
		if ctx.Err() != nil {
			break
		}
		log := logging.With(logging.WithOrderID(ctx, p.ExternalOrderID), w.log)
		res, err := w.grants.RetryEntitlement(ctx, p.ID)
		switch {
		case err != nil:
			metrics.IncEntitlementRepair("error")
			log.Warn().Err(err).Str("payment_id", p.ID).Msg("grant retry failed")
		case res.EntitlementErr != nil:
			metrics.IncEntitlementRepair("failed")
		default:
			metrics.IncEntitlementRepair("granted")
			granted++
			log.Info().Str("payment_id", p.ID).Msg("entitlement granted on retry")
		}
	}
	return granted
}

// ReportRevenue refreshes the completed-amount gauge.
func (w *PaymentReconciler) ReportRevenue(ctx context.Context) {
	sum, err := w.payments.SumCompletedSince(ctx, nil, w.now().Add(-revenueWindow))
	if err != nil {
		w.log.Warn().Err(err).Msg("sum completed payments failed")
		return
	}
	metrics.SetCompletedAmountRecent(sum)
}
