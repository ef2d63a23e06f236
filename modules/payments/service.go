package payments

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/prolessons/handler"
	"github.com/dmitrymomot/prolessons/pkg/billing"
	"github.com/dmitrymomot/prolessons/pkg/binder"
	"github.com/dmitrymomot/prolessons/pkg/logger"
)

// Service serves checkout and webhook routes.
type Service struct {
	checkout       *billing.Checkout
	reconciler     *billing.Reconciler
	store          billing.EntitlementStore
	catalog        *billing.Catalog
	resolver       UserResolver
	errorHandler   handler.ErrorHandler
	publishableKey string
	now            func() time.Time
	log            *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithUserResolver sets how the current user is identified.
func WithUserResolver(r UserResolver) Option {
	return func(s *Service) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithErrorHandler sets the handler for binding and unexpected errors.
func WithErrorHandler(h handler.ErrorHandler) Option {
	return func(s *Service) {
		if h != nil {
			s.errorHandler = h
		}
	}
}

// WithCatalog lets card requests name the plan by its provider plan id.
func WithCatalog(c *billing.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithPublishableKey sets the key returned with 3-D Secure challenges.
func WithPublishableKey(key string) Option {
	return func(s *Service) { s.publishableKey = key }
}

// WithClock overrides the time source used to report entitlement state.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService creates a Service. Panics on nil dependencies.
func NewService(checkout *billing.Checkout, reconciler *billing.Reconciler, store billing.EntitlementStore, opts ...Option) *Service {
	if checkout == nil {
		panic("payments: Checkout is required")
	}
	if reconciler == nil {
		panic("payments: Reconciler is required")
	}
	if store == nil {
		panic("payments: EntitlementStore is required")
	}

	s := &Service{
		checkout:   checkout,
		reconciler: reconciler,
		store:      store,
		resolver:   NewHeaderUserResolver(nil, nil),
		now:        func() time.Time { return time.Now().UTC() },
		log:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.errorHandler == nil {
		s.errorHandler = handler.NewErrorHandler(s.log)
	}
	s.log = s.log.With(logger.Component("payments"))
	return s
}

func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(RequireUser(s.resolver, s.errorHandler))

		r.Post("/checkout", handler.Wrap(s.openCheckout,
			handler.WithBinders[CheckoutRequest](binder.JSON(), binder.Form()),
			handler.WithErrorHandler[CheckoutRequest](s.errorHandler),
		))
		r.Post("/card", handler.Wrap(s.cardPayment,
			handler.WithBinders[CardPaymentRequest](binder.JSON(), binder.Form()),
			handler.WithErrorHandler[CardPaymentRequest](s.errorHandler),
		))
		r.Post("/paypal", handler.Wrap(s.paypalPayment,
			handler.WithBinders[PayPalPaymentRequest](binder.JSON(), binder.Form()),
			handler.WithErrorHandler[PayPalPaymentRequest](s.errorHandler),
		))
		r.Post("/cancel-subscription", handler.Wrap(s.cancelSubscription,
			handler.WithErrorHandler[struct{}](s.errorHandler),
		))
		r.Get("/entitlement", handler.Wrap(s.entitlement,
			handler.WithErrorHandler[struct{}](s.errorHandler),
		))
	})

	r.Post("/stripe-webhooks", handler.Wrap(s.webhook(billing.ProviderStripe),
		handler.WithErrorHandler[struct{}](s.errorHandler),
	))
	r.Post("/paypal-webhooks", handler.Wrap(s.webhook(billing.ProviderPayPal),
		handler.WithErrorHandler[struct{}](s.errorHandler),
	))

	return r
}
