package billing

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ProviderName identifies a payment provider.
type ProviderName string

const (
	ProviderStripe ProviderName = "stripe"
	ProviderPayPal ProviderName = "paypal"
	ProviderFake   ProviderName = "fake"
)

// Provider-independent statuses reported by Provider implementations.
const (
	SubscriptionActive          = "active"
	SubscriptionIncomplete      = "incomplete"
	SubscriptionApprovalPending = "approval_pending"
	SubscriptionCanceled        = "canceled"

	IntentSucceeded      = "succeeded"
	IntentRequiresAction = "requires_action"
)

// Provider is the capability set every payment provider client exposes.
// Creation calls are not idempotent; callers persist returned identifiers
// before doing anything else with them.
type Provider interface {
	Name() ProviderName

	CreateCustomer(ctx context.Context, email, paymentMethod string) (*CustomerRef, error)
	RetrieveCustomer(ctx context.Context, customerID string) (*CustomerRef, error)

	CreateSubscription(ctx context.Context, customer *CustomerRef, providerPlanID string) (*SubscriptionRef, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionRef, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error

	CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntentRef, error)
	AttachPaymentMethod(ctx context.Context, intentID, paymentMethod string) (*PaymentIntentRef, error)
	RetrievePaymentIntent(ctx context.Context, intentID string) (*PaymentIntentRef, error)
	ConfirmPaymentIntent(ctx context.Context, intentID string) (*PaymentIntentRef, error)

	RetrieveInvoice(ctx context.Context, invoiceID string) (*InvoiceRef, error)

	CreateOneTimeOrder(ctx context.Context, plan Plan) (*OrderRef, error)
	CreatePayPalSubscription(ctx context.Context, plan Plan) (*SubscriptionRef, error)

	// ParseWebhook verifies the payload signature and normalizes the event.
	// Verification failures return ErrInvalidSignature.
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*WebhookEvent, error)
}

// CustomerRef is a provider-side customer.
type CustomerRef struct {
	ID    string
	Email string
}

// SubscriptionRef is a provider-side recurring billing agreement.
type SubscriptionRef struct {
	ID            string
	Status        string
	CustomerID    string
	ProductID     string
	LatestInvoice *InvoiceRef
	PeriodEnd     time.Time
	// LastPaymentAt is the time of the latest captured payment, when the
	// provider reports it. Used when PeriodEnd is unknown.
	LastPaymentAt time.Time
	// ApproveURL is set when the buyer must approve the subscription on the provider site.
	ApproveURL string
}

// PaymentIntentParams describes a one-time charge.
type PaymentIntentParams struct {
	Amount       int64
	Currency     string
	ReceiptEmail string
	MethodTypes  []string
}

// PaymentIntentRef is a provider-side payment attempt.
type PaymentIntentRef struct {
	ID           string
	ClientSecret string
	Status       string
}

// InvoiceRef is a provider-side invoice.
type InvoiceRef struct {
	ID            string
	PaymentIntent *PaymentIntentRef
}

// OrderRef is a provider-side one-time order.
type OrderRef struct {
	ID         string
	Status     string
	ApproveURL string
}

// providerError classifies a provider call failure. Errors that are neither
// rejected nor unavailable are treated as transient.
func providerError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProviderRejected) || errors.Is(err, ErrProviderUnavailable) {
		return err
	}
	return errors.Join(ErrProviderUnavailable, err)
}

// callProvider runs fn with the per-call timeout and classifies its error.
func callProvider[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	v, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, providerError(err)
	}
	return v, nil
}
