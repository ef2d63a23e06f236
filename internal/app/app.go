// Package app wires configuration, storage, payment providers and the HTTP
// surface into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/prolessons/handler"
	"github.com/dmitrymomot/prolessons/internal/config"
	"github.com/dmitrymomot/prolessons/internal/store"
	"github.com/dmitrymomot/prolessons/modules/payments"
	"github.com/dmitrymomot/prolessons/pkg/billing"
	"github.com/dmitrymomot/prolessons/pkg/httpserver"
	"github.com/dmitrymomot/prolessons/pkg/logger"
	"github.com/dmitrymomot/prolessons/pkg/metrics"
	"github.com/dmitrymomot/prolessons/pkg/pg"
	rediskit "github.com/dmitrymomot/prolessons/pkg/redis"
)

// readinessTimeout bounds each dependency ping on /health/ready.
const readinessTimeout = 2 * time.Second

// App holds the long-lived dependencies of the service.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Metrics *metrics.Metrics

	Catalog    *billing.Catalog
	Stripe     *billing.StripeProvider
	PayPal     *billing.PayPalProvider
	Store      *store.EntitlementStore
	Users      *store.UserDirectory
	Ledger     *store.RedisLedger
	Checkout   *billing.Checkout
	Reconciler *billing.Reconciler
	Payments   *payments.Service
}

// NewLogger builds the application logger from cfg.
func NewLogger(cfg config.Config) *slog.Logger {
	return logger.New(
		logger.WithEnvironment(cfg.Env, cfg.Service),
		logger.WithLevel(logger.ParseLevel(cfg.LogLevel)),
		logger.WithOutput(os.Stdout),
		logger.WithRequestID(),
	)
}

// New connects to Postgres and Redis and builds the billing services.
// Call Close when done.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg)
	}
	a := &App{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.New(nil),
	}

	catalog, err := billing.NewCatalog(cfg.Plans)
	if err != nil {
		return nil, fmt.Errorf("failed to build plan catalog: %w", err)
	}
	a.Catalog = catalog

	if a.Stripe, err = billing.NewStripeProvider(cfg.Stripe, nil); err != nil {
		return nil, fmt.Errorf("failed to create stripe provider: %w", err)
	}
	if a.PayPal, err = billing.NewPayPalProvider(cfg.PayPal); err != nil {
		return nil, fmt.Errorf("failed to create paypal provider: %w", err)
	}

	if a.DB, err = pg.Connect(ctx, cfg.Postgres); err != nil {
		return nil, err
	}
	if a.Redis, err = rediskit.Connect(ctx, cfg.Redis); err != nil {
		a.DB.Close()
		return nil, err
	}

	a.Store = store.NewEntitlementStore(a.DB)
	a.Users = store.NewUserDirectory(a.DB)
	a.Ledger = store.NewRedisLedger(a.Redis, cfg.LedgerTTL)

	card := a.guard(a.Stripe)
	paypal := a.guard(a.PayPal)
	observer := a.Metrics.Observer()

	a.Checkout = billing.NewCheckout(catalog, a.Store, card,
		billing.WithPayPal(paypal),
		billing.WithPublishableKey(a.Stripe.PublishableKey()),
		billing.WithPayPalClientID(a.PayPal.ClientID()),
		billing.WithProviderTimeout(cfg.ProviderTimeout),
		billing.WithCheckoutLogger(log),
		billing.WithCheckoutObserver(observer),
	)

	reconcilerOpts := []billing.ReconcilerOption{
		billing.WithWebhookProviders(card, paypal),
		billing.WithUserDirectory(a.Users),
		billing.WithEventLedger(a.Ledger),
		billing.WithWebhookTimeout(cfg.ProviderTimeout),
		billing.WithReconcilerLogger(log),
		billing.WithReconcilerObserver(observer),
	}
	if cfg.Monotonic {
		reconcilerOpts = append(reconcilerOpts, billing.WithMonotonicEntitlement())
	}
	a.Reconciler = billing.NewReconciler(catalog, a.Store, reconcilerOpts...)

	a.Payments = payments.NewService(a.Checkout, a.Reconciler, a.Store,
		payments.WithUserResolver(payments.NewHeaderUserResolver(a.Users, log)),
		payments.WithErrorHandler(handler.NewErrorHandler(log)),
		payments.WithCatalog(catalog),
		payments.WithPublishableKey(a.Stripe.PublishableKey()),
		payments.WithLogger(log),
	)
	return a, nil
}

// guard wraps p in a circuit breaker unless breakers are disabled.
func (a *App) guard(p billing.Provider) billing.Provider {
	if !a.Config.Breaker.Enabled {
		return p
	}
	return billing.NewBreakerProvider(p, a.Config.Breaker, a.Logger, a.Metrics.BreakerStateChanged)
}

// Migrate applies the database migrations.
func (a *App) Migrate(ctx context.Context) error {
	return pg.Migrate(ctx, a.DB, store.Migrations(), a.Config.Postgres, a.Logger)
}

// Router returns the HTTP handler of the service.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(a.Logger),
		middleware.Recoverer,
	)

	r.Get("/health/live", httpserver.HealthCheckHandler(a.Logger))
	r.Get("/health/ready", httpserver.HealthCheckHandler(a.Logger,
		pg.Healthcheck(a.DB, readinessTimeout),
		rediskit.Healthcheck(a.Redis, readinessTimeout),
	))
	r.Handle("/metrics", a.Metrics.Handler())
	r.Mount(a.Config.PathPrefix, payments.Router(payments.RouterOptions{Service: a.Payments}))
	return r
}

// Serve runs the HTTP server until ctx is canceled or a shutdown signal arrives.
func (a *App) Serve(ctx context.Context) error {
	srv := httpserver.New(a.Config.HTTP, httpserver.WithLogger(a.Logger))
	return srv.Run(ctx, a.Router())
}

// Close releases connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		a.DB.Close()
	}
	return errors.Join(errs...)
}
