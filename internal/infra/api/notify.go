package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"aicode-billing/internal/domain"
	"aicode-billing/internal/domain/ports/adapter"
	"aicode-billing/internal/infra/adapters/payment"
	"aicode-billing/internal/infra/logging"
	"aicode-billing/internal/infra/metrics"
)

const maxNotifyBody = 64 << 10

// handleNotify verifies a gateway notification and settles the payment.
// A 2xx tells the provider to stop retrying; anything else is retried later.
func (s *Server) handleNotify(v adapter.CallbackVerifier) http.HandlerFunc {
	method := string(v.Method())
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.WithMethod(r.Context(), method)
		log := logging.With(ctx, s.log)

		body, err := io.ReadAll(io.LimitReader(r.Body, maxNotifyBody))
		if err != nil {
			metrics.ObserveCallback(method, "fail", "malformed", time.Since(start))
			v.Nack(w, http.StatusBadRequest, "unreadable body")
			return
		}

		res := v.VerifyCallback(ctx, r.Header, body)
		if res.Err != nil {
			status, reason := http.StatusBadRequest, string(payment.VerificationMalformed)
			var ve *payment.VerificationError
			if errors.As(res.Err, &ve) {
				status, reason = ve.HTTPStatus(), string(ve.Kind)
			}
			log.Warn().Err(res.Err).Str("reason", reason).Msg("notification rejected")
			metrics.ObserveCallback(method, "fail", reason, time.Since(start))
			v.Nack(w, status, "verification failed")
			return
		}

		ctx = logging.WithOrderID(ctx, res.OrderID)
		log = logging.With(ctx, s.log)
		out, err := s.d.Settler.Settle(ctx, v.Method(), res)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrInvalidTransition),
			errors.Is(err, domain.ErrOrderOwnerMismatch),
			errors.Is(err, domain.ErrInvalidArgument):
			// authentic but unusable; operators were alerted and a retry cannot help
			log.Warn().Err(err).Msg("notification acknowledged without settlement")
			metrics.ObserveCallback(method, "ignored", "", time.Since(start))
			v.Ack(w)
			return
		default:
			log.Error().Err(err).Msg("settlement failed")
			metrics.ObserveCallback(method, "fail", "store", time.Since(start))
			v.Nack(w, http.StatusInternalServerError, "settlement failed")
			return
		}

		result := "ok"
		if !out.Applied {
			result = "ignored"
		}
		metrics.ObserveCallback(method, result, "", time.Since(start))
		v.Ack(w)
	}
}
