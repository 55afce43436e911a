// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"aicode-billing/internal/config"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/adapter"
	payAdapters "aicode-billing/internal/infra/adapters/payment"
	tele "aicode-billing/internal/infra/adapters/telegram"
	"aicode-billing/internal/infra/api"
	pg "aicode-billing/internal/infra/db/postgres"
	"aicode-billing/internal/infra/i18n"
	"aicode-billing/internal/infra/logging"
	"aicode-billing/internal/infra/metrics"
	red "aicode-billing/internal/infra/redis"
	"aicode-billing/internal/infra/sched"
	"aicode-billing/internal/infra/worker"
	"aicode-billing/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode: in-memory gateways, console logs, no Telegram alerts")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("billing service stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("DEV MODE enabled: payment gateways are in-memory")
	}

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	// ---- Repositories ----
	payRepo := pg.NewPaymentRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	pkgRepo := pg.NewCreditPackageRepo(pool)
	txm := pg.NewTxManager(pool)

	// ---- Alerts ----
	alertPool := worker.NewPool(cfg.Alerts.Workers, logger)
	alertPool.Start(ctx)
	defer alertPool.Stop()
	var alerter adapter.Alerter = tele.NewNoopAlerter(logger)
	if cfg.Alerts.Telegram.Token != "" && !cfg.Runtime.Dev {
		tg, err := tele.NewAlerter(cfg.Alerts.Telegram)
		if err != nil {
			return fmt.Errorf("telegram alerts: %w", err)
		}
		alerter = tg
	}
	alerter = worker.NewAsyncAlerter(alerter, alertPool, 10*time.Second)

	// ---- Gateways ----
	gateways, verifiers, notifyPaths, err := buildGateways(cfg, logger)
	if err != nil {
		return err
	}

	// ---- Use cases ----
	entUC := usecase.NewEntitlementUseCase(subRepo, pkgRepo, txm, logger)
	settleUC := usecase.NewSettlementUseCase(payRepo, entUC, alerter, logger)
	prefix := cfg.Billing.OrderIDPrefix
	payUC := usecase.NewPaymentUseCase(
		payRepo,
		gateways,
		red.NewSubmissionGuard(redisClient),
		settleUC,
		usecase.PaymentPolicy{
			Currency:        cfg.Billing.Currency,
			DuplicateWindow: cfg.Billing.DuplicateWindow,
			CreateRetries:   cfg.Billing.CreateRetries,
		},
		func(now time.Time) string { return payAdapters.NewExternalOrderID(prefix, now) },
		logger,
	)
	catalog := usecase.NewCatalog(cfg.Catalog, cfg.Billing.Currency)
	logger.Info().Strs("products", catalog.Products()).Msg("catalog loaded")

	messages, err := i18n.NewBundle(i18n.LocalesFS, "en", "zh")
	if err != nil {
		return fmt.Errorf("i18n: %w", err)
	}

	// ---- HTTP ----
	srv := api.NewServer(api.Deps{
		Payments:     payUC,
		Catalog:      catalog,
		Settler:      settleUC,
		Verifiers:    verifiers,
		NotifyPaths:  notifyPaths,
		Entitlements: entUC,
		Identity:     api.NewJWTIdentity(cfg.Auth.HMACSecret),
		Limiter:      red.NewRateLimiter(redisClient),
		RateLimit:    cfg.Billing.RateLimit,
		Messages:     messages,
		Timeout:      cfg.Server.RequestTimeout,
	}, logger)
	server := api.NewHTTPServer(cfg.Server.Port, srv.Routes())

	// ---- Background workers ----
	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("worker", name).Msg("background worker stopped")
			}
		}()
	}
	background("reconciler", sched.NewPaymentReconciler(payUC, settleUC, payRepo, cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, cfg.Reconciler.Batch, logger).Run)
	background("expiry", sched.NewExpiryWorker(cfg.Expiry.Interval, entUC, logger).Run)
	background("db-stats", func(ctx context.Context) error {
		pg.ReportPoolStats(ctx, pool, 15*time.Second, logger)
		return nil
	})

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	wg.Wait()
	return nil
}

// buildGateways returns the enabled gateways, their notification verifiers and the
// route each verifier listens on. Dev mode swaps both gateways for in-memory ones
// and serves no notify routes.
func buildGateways(cfg *config.Config, logger *zerolog.Logger) ([]adapter.PaymentGateway, []adapter.CallbackVerifier, map[model.PaymentMethod]string, error) {
	if cfg.Runtime.Dev {
		return []adapter.PaymentGateway{
			payAdapters.NewNoopPaymentGateway(model.PaymentMethodWeChat),
			payAdapters.NewNoopPaymentGateway(model.PaymentMethodAlipay),
		}, nil, nil, nil
	}

	var (
		gateways  []adapter.PaymentGateway
		verifiers []adapter.CallbackVerifier
		paths     = map[model.PaymentMethod]string{}
	)
	notFoundPending := cfg.Billing.NotFoundIsPending()
	if wc := cfg.Payment.WeChat; wc.Enabled {
		gw, err := payAdapters.NewWeChatGateway(wc, cfg.Server.URL(wc.NotifyPath), notFoundPending, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		v, err := payAdapters.NewWeChatCallbackVerifier(wc, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		gateways, verifiers = append(gateways, gw), append(verifiers, v)
		paths[model.PaymentMethodWeChat] = wc.NotifyPath
		logger.Info().
			Str("mch_id", wc.MchID).
			Str("serial_no", logging.Redact(wc.SerialNo, cfg.Runtime.Dev)).
			Str("notify_path", wc.NotifyPath).
			Msg("wechat pay enabled")
	}
	if ac := cfg.Payment.Alipay; ac.Enabled {
		gw, err := payAdapters.NewAlipayGateway(ac, cfg.Server.URL(ac.NotifyPath), cfg.Server.URL(ac.ReturnPath), notFoundPending, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		v, err := payAdapters.NewAlipayCallbackVerifier(ac, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		gateways, verifiers = append(gateways, gw), append(verifiers, v)
		paths[model.PaymentMethodAlipay] = ac.NotifyPath
		logger.Info().
			Str("app_id", logging.Redact(ac.AppID, cfg.Runtime.Dev)).
			Str("notify_path", ac.NotifyPath).
			Msg("alipay enabled")
	}
	if len(gateways) == 0 {
		return nil, nil, nil, errors.New("no payment gateway enabled; set payment.wechat.enabled or payment.alipay.enabled")
	}
	return gateways, verifiers, paths, nil
}
