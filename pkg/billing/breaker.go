package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/dmitrymomot/prolessons/pkg/logger"
)

// BreakerConfig configures the circuit breaker in front of a provider.
type BreakerConfig struct {
	Enabled bool `env:"BILLING_BREAKER_ENABLED" envDefault:"true"`
	// MaxRequests is the number of calls allowed while half-open.
	MaxRequests uint32 `env:"BILLING_BREAKER_MAX_REQUESTS" envDefault:"3"`
	// Interval is the cyclic period of the closed state that resets counts.
	Interval time.Duration `env:"BILLING_BREAKER_INTERVAL" envDefault:"1m"`
	// Timeout is how long the breaker stays open.
	Timeout time.Duration `env:"BILLING_BREAKER_TIMEOUT" envDefault:"30s"`
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32 `env:"BILLING_BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
}

// BreakerProvider guards a Provider with a circuit breaker. Only
// unavailability counts as failure; rejections and declines do not.
// Webhook parsing bypasses the breaker.
type BreakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerProvider wraps next. onStateChange may be nil.
func NewBreakerProvider(next Provider, cfg BreakerConfig, log *slog.Logger, onStateChange func(provider ProviderName, state string)) *BreakerProvider {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	name := next.Name()
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:        string(name),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			log.Warn("provider circuit breaker state changed",
				logger.Provider(string(name)),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			if onStateChange != nil {
				onStateChange(name, to.String())
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(providerError(err), ErrProviderUnavailable)
		},
	}

	return &BreakerProvider{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
	}
}

// State returns the current breaker state name.
func (b *BreakerProvider) State() string { return b.cb.State().String() }

func guard[T any](b *BreakerProvider, fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(func() (any, error) { return fn() })
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, errors.Join(ErrProviderUnavailable, err)
		}
		return zero, err
	}
	return v.(T), nil
}

func (b *BreakerProvider) Name() ProviderName { return b.next.Name() }

func (b *BreakerProvider) CreateCustomer(ctx context.Context, email, paymentMethod string) (*CustomerRef, error) {
	return guard(b, func() (*CustomerRef, error) { return b.next.CreateCustomer(ctx, email, paymentMethod) })
}

func (b *BreakerProvider) RetrieveCustomer(ctx context.Context, customerID string) (*CustomerRef, error) {
	return guard(b, func() (*CustomerRef, error) { return b.next.RetrieveCustomer(ctx, customerID) })
}

func (b *BreakerProvider) CreateSubscription(ctx context.Context, customer *CustomerRef, providerPlanID string) (*SubscriptionRef, error) {
	return guard(b, func() (*SubscriptionRef, error) { return b.next.CreateSubscription(ctx, customer, providerPlanID) })
}

func (b *BreakerProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionRef, error) {
	return guard(b, func() (*SubscriptionRef, error) { return b.next.RetrieveSubscription(ctx, subscriptionID) })
}

func (b *BreakerProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	_, err := guard(b, func() (struct{}, error) { return struct{}{}, b.next.CancelSubscription(ctx, subscriptionID) })
	return err
}

func (b *BreakerProvider) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntentRef, error) {
	return guard(b, func() (*PaymentIntentRef, error) { return b.next.CreatePaymentIntent(ctx, params) })
}

func (b *BreakerProvider) AttachPaymentMethod(ctx context.Context, intentID, paymentMethod string) (*PaymentIntentRef, error) {
	return guard(b, func() (*PaymentIntentRef, error) { return b.next.AttachPaymentMethod(ctx, intentID, paymentMethod) })
}

func (b *BreakerProvider) RetrievePaymentIntent(ctx context.Context, intentID string) (*PaymentIntentRef, error) {
	return guard(b, func() (*PaymentIntentRef, error) { return b.next.RetrievePaymentIntent(ctx, intentID) })
}

func (b *BreakerProvider) ConfirmPaymentIntent(ctx context.Context, intentID string) (*PaymentIntentRef, error) {
	return guard(b, func() (*PaymentIntentRef, error) { return b.next.ConfirmPaymentIntent(ctx, intentID) })
}

func (b *BreakerProvider) RetrieveInvoice(ctx context.Context, invoiceID string) (*InvoiceRef, error) {
	return guard(b, func() (*InvoiceRef, error) { return b.next.RetrieveInvoice(ctx, invoiceID) })
}

func (b *BreakerProvider) CreateOneTimeOrder(ctx context.Context, plan Plan) (*OrderRef, error) {
	return guard(b, func() (*OrderRef, error) { return b.next.CreateOneTimeOrder(ctx, plan) })
}

func (b *BreakerProvider) CreatePayPalSubscription(ctx context.Context, plan Plan) (*SubscriptionRef, error) {
	return guard(b, func() (*SubscriptionRef, error) { return b.next.CreatePayPalSubscription(ctx, plan) })
}

func (b *BreakerProvider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*WebhookEvent, error) {
	return b.next.ParseWebhook(ctx, payload, header)
}
