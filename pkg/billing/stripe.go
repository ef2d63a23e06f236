package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeConfig holds configuration for the Stripe provider.
type StripeConfig struct {
	SecretKey         string `env:"STRIPE_SECRET_KEY,required"`
	PublishableKey    string `env:"STRIPE_PUBLISHABLE_KEY,required"`
	WebhookSigningKey string `env:"STRIPE_WEBHOOK_SIGNING_KEY,required"`
}

// Validate reports missing secrets.
func (c StripeConfig) Validate() error {
	switch {
	case c.SecretKey == "":
		return ErrMissingSecretKey
	case c.PublishableKey == "":
		return ErrMissingPublishableKey
	case c.WebhookSigningKey == "":
		return ErrMissingWebhookSecret
	}
	return nil
}

const (
	stripeSignatureHeader = "Stripe-Signature"

	stripeInvoicePaymentSucceeded = "invoice.payment_succeeded"
	stripeChargeSucceeded         = "charge.succeeded"
)

// StripeProvider implements Provider on top of the Stripe API.
type StripeProvider struct {
	api    *client.API
	config StripeConfig
}

// NewStripeProvider creates a Stripe provider. backends may be nil.
func NewStripeProvider(config StripeConfig, backends *stripe.Backends) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &StripeProvider{
		api:    client.New(config.SecretKey, backends),
		config: config,
	}, nil
}

func (p *StripeProvider) Name() ProviderName { return ProviderStripe }

// PublishableKey returns the key the browser uses with Stripe.js.
func (p *StripeProvider) PublishableKey() string { return p.config.PublishableKey }

func (p *StripeProvider) CreateCustomer(ctx context.Context, email, paymentMethod string) (*CustomerRef, error) {
	params := &stripe.CustomerParams{
		Email:         stripe.String(email),
		PaymentMethod: stripe.String(paymentMethod),
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethod),
		},
	}
	params.Context = ctx

	c, err := p.api.Customers.New(params)
	if err != nil {
		return nil, stripeError(err)
	}
	return &CustomerRef{ID: c.ID, Email: c.Email}, nil
}

func (p *StripeProvider) RetrieveCustomer(ctx context.Context, customerID string) (*CustomerRef, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	c, err := p.api.Customers.Get(customerID, params)
	if err != nil {
		return nil, stripeError(err)
	}
	if c.Deleted {
		return nil, fmt.Errorf("%w: customer %s deleted", ErrProviderRejected, customerID)
	}
	return &CustomerRef{ID: c.ID, Email: c.Email}, nil
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, customer *CustomerRef, providerPlanID string) (*SubscriptionRef, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customer.ID),
		Items: []*stripe.SubscriptionItemsParams{
			{Plan: stripe.String(providerPlanID)},
		},
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")

	s, err := p.api.Subscriptions.New(params)
	if err != nil {
		return nil, stripeError(err)
	}
	return stripeSubscription(s), nil
}

func (p *StripeProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionRef, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")

	s, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, stripeError(err)
	}
	return stripeSubscription(s), nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := p.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return stripeError(err)
	}
	return nil
}

func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, in PaymentIntentParams) (*PaymentIntentRef, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(in.Amount),
		Currency:           stripe.String(in.Currency),
		PaymentMethodTypes: stripe.StringSlice(in.MethodTypes),
	}
	if in.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(in.ReceiptEmail)
	}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, stripeError(err)
	}
	return stripeIntent(pi), nil
}

func (p *StripeProvider) AttachPaymentMethod(ctx context.Context, intentID, paymentMethod string) (*PaymentIntentRef, error) {
	params := &stripe.PaymentIntentParams{PaymentMethod: stripe.String(paymentMethod)}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Update(intentID, params)
	if err != nil {
		return nil, stripeError(err)
	}
	return stripeIntent(pi), nil
}

func (p *StripeProvider) RetrievePaymentIntent(ctx context.Context, intentID string) (*PaymentIntentRef, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, stripeError(err)
	}
	return stripeIntent(pi), nil
}

func (p *StripeProvider) ConfirmPaymentIntent(ctx context.Context, intentID string) (*PaymentIntentRef, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return nil, stripeError(err)
	}
	return stripeIntent(pi), nil
}

func (p *StripeProvider) RetrieveInvoice(ctx context.Context, invoiceID string) (*InvoiceRef, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	inv, err := p.api.Invoices.Get(invoiceID, params)
	if err != nil {
		return nil, stripeError(err)
	}
	return stripeInvoice(inv), nil
}

func (p *StripeProvider) CreateOneTimeOrder(ctx context.Context, plan Plan) (*OrderRef, error) {
	return nil, errors.Join(ErrProviderRejected, ErrUnsupportedOperation)
}

func (p *StripeProvider) CreatePayPalSubscription(ctx context.Context, plan Plan) (*SubscriptionRef, error) {
	return nil, errors.Join(ErrProviderRejected, ErrUnsupportedOperation)
}

// ParseWebhook verifies the Stripe-Signature header and normalizes
// invoice.payment_succeeded and charge.succeeded events.
func (p *StripeProvider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*WebhookEvent, error) {
	if err := webhook.ValidatePayload(payload, header.Get(stripeSignatureHeader), p.config.WebhookSigningKey); err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	var e stripe.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	return parseStripeEvent(e)
}

func parseStripeEvent(e stripe.Event) (*WebhookEvent, error) {
	event := &WebhookEvent{
		ID:           e.ID,
		Provider:     ProviderStripe,
		Type:         EventUnknown,
		ProviderType: string(e.Type),
	}
	if e.Data == nil {
		return event, nil
	}

	switch string(e.Type) {
	case stripeInvoicePaymentSucceeded:
		var inv stripe.Invoice
		if err := json.Unmarshal(e.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		event.Type = EventRecurringPaymentSucceeded
		event.Paid = inv.Paid
		event.Email = inv.CustomerEmail
		event.Amount = inv.AmountPaid
		event.Currency = string(inv.Currency)
		if inv.Subscription != nil {
			event.SubscriptionID = inv.Subscription.ID
		}
		if inv.Customer != nil {
			event.CustomerID = inv.Customer.ID
		}
		if end := subscriptionLineEnd(&inv); end > 0 {
			event.PeriodEnd = end
		}

	case stripeChargeSucceeded:
		var ch stripe.Charge
		if err := json.Unmarshal(e.Data.Raw, &ch); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		// Subscription charges are settled by the invoice event.
		if ch.Invoice != nil && ch.Invoice.ID != "" {
			return event, nil
		}
		event.Type = EventOneTimePaymentSucceeded
		event.Paid = ch.Paid
		event.Amount = ch.Amount
		event.Currency = string(ch.Currency)
		event.Email = ch.ReceiptEmail
		if event.Email == "" && ch.BillingDetails != nil {
			event.Email = ch.BillingDetails.Email
		}
		if ch.Customer != nil {
			event.CustomerID = ch.Customer.ID
		}
	}
	return event, nil
}

// subscriptionLineEnd returns the period end of the first regular subscription
// line. Proration and one-off lines may come first and cover other periods.
// Zero means the reconciler has to ask for the subscription instead.
func subscriptionLineEnd(inv *stripe.Invoice) int64 {
	if inv.Lines == nil {
		return 0
	}
	for _, line := range inv.Lines.Data {
		if line == nil || line.Period == nil || line.Proration {
			continue
		}
		if line.Type == stripe.InvoiceLineItemTypeSubscription {
			return line.Period.End
		}
	}
	return 0
}

func stripeSubscription(s *stripe.Subscription) *SubscriptionRef {
	ref := &SubscriptionRef{
		ID:     s.ID,
		Status: string(s.Status),
	}
	if s.Customer != nil {
		ref.CustomerID = s.Customer.ID
	}
	if s.CurrentPeriodEnd > 0 {
		ref.PeriodEnd = time.Unix(s.CurrentPeriodEnd, 0).UTC()
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		if price := s.Items.Data[0].Price; price != nil && price.Product != nil {
			ref.ProductID = price.Product.ID
		}
	}
	if s.LatestInvoice != nil {
		ref.LatestInvoice = stripeInvoice(s.LatestInvoice)
	}
	return ref
}

func stripeInvoice(inv *stripe.Invoice) *InvoiceRef {
	ref := &InvoiceRef{ID: inv.ID}
	if inv.PaymentIntent != nil {
		ref.PaymentIntent = stripeIntent(inv.PaymentIntent)
	}
	return ref
}

func stripeIntent(pi *stripe.PaymentIntent) *PaymentIntentRef {
	return &PaymentIntentRef{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}
}

// stripeError classifies Stripe API errors. Card errors are declines; other
// 4xx responses are rejections; everything else is treated as transient.
func stripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.Type == stripe.ErrorTypeCard:
			return errors.Join(ErrProviderRejected, ErrPaymentDeclined, err)
		case se.HTTPStatusCode > 0 && se.HTTPStatusCode < http.StatusInternalServerError && se.HTTPStatusCode != http.StatusTooManyRequests:
			return errors.Join(ErrProviderRejected, err)
		}
	}
	return errors.Join(ErrProviderUnavailable, err)
}
