package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/prolessons/pkg/logger"
)

// PaymentKind distinguishes one-time charges from subscriptions.
type PaymentKind string

const (
	KindOneTime   PaymentKind = "one_time"
	KindRecurring PaymentKind = "recurring"
)

// Payment methods accepted by the checkout form.
const (
	MethodCard   = "card"
	MethodPayPal = "paypal"
)

// Attempt is the ephemeral state of one checkout request.
type Attempt struct {
	Plan          Plan
	Kind          PaymentKind
	Provider      ProviderName
	Status        PaymentStatus
	PaymentIntent *PaymentIntentRef
	Invoice       *InvoiceRef
	Subscription  *SubscriptionRef
	Order         *OrderRef
}

// ClientSecret returns the payment intent secret the browser needs to finish 3-D Secure.
func (a *Attempt) ClientSecret() string {
	switch {
	case a == nil:
		return ""
	case a.PaymentIntent != nil:
		return a.PaymentIntent.ClientSecret
	case a.Invoice != nil && a.Invoice.PaymentIntent != nil:
		return a.Invoice.PaymentIntent.ClientSecret
	}
	return ""
}

// CheckoutForm is the provider-specific context rendered when checkout opens.
type CheckoutForm struct {
	PaymentMethod  string `json:"payment_method"`
	Automatic      bool   `json:"automatic"`
	PlanID         PlanID `json:"plan_id"`
	ProviderPlanID string `json:"provider_plan_id"`
	PublishableKey string `json:"publishable_key,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	Email          string `json:"customer_email"`
	Amount         string `json:"amount"`
	Details        string `json:"details"`
}

// Checkout drives one-time and recurring payment creation.
type Checkout struct {
	catalog        *Catalog
	store          EntitlementStore
	card           Provider
	paypal         Provider
	publishableKey string
	paypalClientID string
	timeout        time.Duration
	log            *slog.Logger
	observers      observers
}

// CheckoutOption configures a Checkout.
type CheckoutOption func(*Checkout)

// WithPayPal enables the PayPal checkout path.
func WithPayPal(p Provider) CheckoutOption {
	return func(c *Checkout) {
		if p != nil {
			c.paypal = p
		}
	}
}

// WithPublishableKey sets the card provider key exposed to the browser.
func WithPublishableKey(key string) CheckoutOption {
	return func(c *Checkout) { c.publishableKey = key }
}

// WithPayPalClientID sets the PayPal client id exposed to the browser.
func WithPayPalClientID(id string) CheckoutOption {
	return func(c *Checkout) { c.paypalClientID = id }
}

// WithProviderTimeout bounds every provider call. Zero disables the bound.
func WithProviderTimeout(d time.Duration) CheckoutOption {
	return func(c *Checkout) {
		if d >= 0 {
			c.timeout = d
		}
	}
}

// WithCheckoutLogger sets the logger.
func WithCheckoutLogger(l *slog.Logger) CheckoutOption {
	return func(c *Checkout) {
		if l != nil {
			c.log = l
		}
	}
}

// WithCheckoutObserver registers a lifecycle observer.
func WithCheckoutObserver(o Observer) CheckoutOption {
	return func(c *Checkout) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// NewCheckout creates a Checkout. card serves the card flows.
// Panics on nil dependencies.
func NewCheckout(catalog *Catalog, store EntitlementStore, card Provider, opts ...CheckoutOption) *Checkout {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if store == nil {
		panic("billing: EntitlementStore is required")
	}
	if card == nil {
		panic("billing: card Provider is required")
	}

	c := &Checkout{
		catalog: catalog,
		store:   store,
		card:    card,
		timeout: 30 * time.Second,
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("checkout"))
	return c
}

// Form builds the context shown when the user opens checkout.
func (c *Checkout) Form(ctx context.Context, user User, method, planID string, automatic bool) (*CheckoutForm, error) {
	plan, err := c.catalog.Resolve(planID)
	if err != nil {
		return nil, err
	}

	form := &CheckoutForm{
		PaymentMethod: method,
		Automatic:     automatic,
		PlanID:        plan.ID,
		Email:         user.Email,
		Amount:        HumanAmount(plan),
		Details:       HumanDetails(plan, automatic),
	}

	var provider ProviderName
	switch method {
	case MethodCard:
		provider = c.card.Name()
		form.ProviderPlanID = plan.ProviderPlanID(provider)
		form.PublishableKey = c.publishableKey
	case MethodPayPal:
		if c.paypal == nil {
			return nil, ErrUnknownPaymentMethod
		}
		provider = c.paypal.Name()
		form.ProviderPlanID = plan.ProviderPlanID(provider)
		form.ClientID = c.paypalClientID
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, method)
	}

	c.observers.notify(ctx, Lifecycle{
		Stage:    StageCheckoutOpened,
		Provider: provider,
		UserID:   user.ID,
		PlanID:   plan.ID,
		Kind:     kindOf(automatic),
	})
	return form, nil
}

// OneTimePayment charges the plan amount once with the card provider.
// Entitlement is granted by the charge webhook, not here.
func (c *Checkout) OneTimePayment(ctx context.Context, user User, planID, paymentMethod string) (*Attempt, error) {
	plan, err := c.catalog.Resolve(planID)
	if err != nil {
		return nil, err
	}
	if paymentMethod == "" {
		return nil, ErrMissingPaymentMethod
	}

	p := c.card
	a := c.begin(ctx, user, plan, KindOneTime, p.Name())

	intent, err := callProvider(ctx, c.timeout, func(ctx context.Context) (*PaymentIntentRef, error) {
		return p.CreatePaymentIntent(ctx, PaymentIntentParams{
			Amount:       plan.Amount,
			Currency:     plan.Currency,
			ReceiptEmail: user.Email,
			MethodTypes:  []string{MethodCard},
		})
	})
	if err != nil {
		return a, c.fail(ctx, user, a, fmt.Errorf("failed to create payment intent: %w", err))
	}

	intent, err = callProvider(ctx, c.timeout, func(ctx context.Context) (*PaymentIntentRef, error) {
		return p.AttachPaymentMethod(ctx, intent.ID, paymentMethod)
	})
	if err != nil {
		return a, c.fail(ctx, user, a, fmt.Errorf("failed to attach payment method: %w", err))
	}

	intent, err = callProvider(ctx, c.timeout, func(ctx context.Context) (*PaymentIntentRef, error) {
		return p.ConfirmPaymentIntent(ctx, intent.ID)
	})
	if err != nil {
		return a, c.fail(ctx, user, a, fmt.Errorf("failed to confirm payment intent: %w", err))
	}
	a.PaymentIntent = intent

	switch intent.Status {
	case IntentSucceeded:
		a.Status = StatusSucceeded
	case IntentRequiresAction:
		a.Status = StatusRequiresAction
	default:
		return a, c.fail(ctx, user, a, fmt.Errorf("%w: payment intent status %q", ErrPaymentDeclined, intent.Status))
	}

	c.succeed(ctx, user, a)
	return a, nil
}

// RecurringPayment subscribes the user to the plan with the card provider.
// Customer and subscription ids are persisted as soon as they are created,
// so a retried request reuses them instead of creating duplicates.
func (c *Checkout) RecurringPayment(ctx context.Context, user User, planID, paymentMethod string) (*Attempt, error) {
	plan, err := c.catalog.Resolve(planID)
	if err != nil {
		return nil, err
	}
	if paymentMethod == "" {
		return nil, ErrMissingPaymentMethod
	}

	p := c.card
	a := c.begin(ctx, user, plan, KindRecurring, p.Name())

	e, err := c.store.GetOrCreate(ctx, user.ID)
	if err != nil {
		return a, c.fail(ctx, user, a, fmt.Errorf("failed to load entitlement: %w", err))
	}
	if e.HasSubscription() && e.Provider != "" && e.Provider != p.Name() {
		return a, c.fail(ctx, user, a, ErrSubscriptionExists)
	}

	customer, err := c.getOrCreateCustomer(ctx, p, user, e, paymentMethod)
	if err != nil {
		return a, c.fail(ctx, user, a, err)
	}

	sub, err := c.getOrCreateSubscription(ctx, p, e, customer, plan)
	if err != nil {
		return a, c.fail(ctx, user, a, err)
	}
	a.Subscription = sub

	switch sub.Status {
	case SubscriptionActive:
		a.Status = StatusSucceeded
		a.Invoice = sub.LatestInvoice
	case SubscriptionIncomplete:
		if sub.LatestInvoice == nil || sub.LatestInvoice.ID == "" {
			return a, c.fail(ctx, user, a, fmt.Errorf("%w: incomplete subscription has no invoice", ErrPaymentDeclined))
		}
		inv, err := callProvider(ctx, c.timeout, func(ctx context.Context) (*InvoiceRef, error) {
			return p.RetrieveInvoice(ctx, sub.LatestInvoice.ID)
		})
		if err != nil {
			return a, c.fail(ctx, user, a, fmt.Errorf("failed to retrieve invoice: %w", err))
		}
		if inv.PaymentIntent == nil || inv.PaymentIntent.ID == "" {
			return a, c.fail(ctx, user, a, fmt.Errorf("%w: invoice has no payment intent", ErrPaymentDeclined))
		}
		pi, err := callProvider(ctx, c.timeout, func(ctx context.Context) (*PaymentIntentRef, error) {
			return p.ConfirmPaymentIntent(ctx, inv.PaymentIntent.ID)
		})
		if err != nil {
			return a, c.fail(ctx, user, a, fmt.Errorf("failed to confirm invoice payment: %w", err))
		}
		if pi.Status != IntentRequiresAction {
			return a, c.fail(ctx, user, a, fmt.Errorf("%w: invoice payment status %q", ErrPaymentDeclined, pi.Status))
		}
		inv.PaymentIntent = pi
		a.Invoice = inv
		a.Status = StatusRequiresAction
	default:
		return a, c.fail(ctx, user, a, fmt.Errorf("%w: subscription status %q", ErrPaymentDeclined, sub.Status))
	}

	c.succeed(ctx, user, a)
	return a, nil
}

// CancelSubscription cancels the stored subscription. PRO access is kept
// until the paid period ends.
func (c *Checkout) CancelSubscription(ctx context.Context, user User) (*Attempt, error) {
	e, err := c.store.GetOrCreate(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entitlement: %w", err)
	}
	if !e.HasSubscription() {
		return nil, ErrNoActiveSubscription
	}

	p, err := c.providerFor(e.Provider)
	if err != nil {
		return nil, err
	}

	a := &Attempt{Kind: KindRecurring, Provider: p.Name(), Status: StatusNotInitiated}
	subscriptionID := e.SubscriptionID
	if _, err := callProvider(ctx, c.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.CancelSubscription(ctx, subscriptionID)
	}); err != nil {
		return a, c.fail(ctx, user, a, fmt.Errorf("failed to cancel subscription: %w", err))
	}

	e.SubscriptionID = ""
	e.ProductID = ""
	if err := c.store.Save(ctx, e); err != nil {
		return a, c.fail(ctx, user, a, fmt.Errorf("failed to save entitlement: %w", err))
	}

	a.Status = StatusSubscriptionCanceled
	a.Subscription = &SubscriptionRef{ID: subscriptionID, Status: SubscriptionCanceled}
	c.log.InfoContext(ctx, "subscription canceled",
		logger.UserID(user.ID),
		logger.Provider(string(p.Name())),
		logger.SubscriptionID(subscriptionID),
	)
	c.succeed(ctx, user, a)
	return a, nil
}

// PayPalOrder creates a one-time PayPal order the buyer approves on PayPal.
// The order id is stored as the join key for the approval webhook.
func (c *Checkout) PayPalOrder(ctx context.Context, user User, planID string) (*Attempt, error) {
	plan, err := c.catalog.Resolve(planID)
	if err != nil {
		return nil, err
	}
	if c.paypal == nil {
		return nil, ErrUnknownPaymentMethod
	}

	p := c.paypal
	a := c.begin(ctx, user, plan, KindOneTime, p.Name())

	order, err := callProvider(ctx, c.timeout, func(ctx context.Context) (*OrderRef, error) {
		return p.CreateOneTimeOrder(ctx, plan)
	})
	if err != nil {
		return a, c.fail(ctx, user, a, fmt.Errorf("failed to create order: %w", err))
	}
	a.Order = order

	e, err := c.store.GetOrCreate(ctx, user.ID)
	if err != nil {
		return a, c.fail(ctx, user, a, fmt.Errorf("failed to load entitlement: %w", err))
	}
	e.OrderID = order.ID
	if err := c.store.Save(ctx, e); err != nil {
		return a, c.fail(ctx, user, a, fmt.Errorf("failed to save order id: %w", err))
	}

	c.succeed(ctx, user, a)
	return a, nil
}

// PayPalSubscription creates (or reuses) a PayPal subscription for the plan.
func (c *Checkout) PayPalSubscription(ctx context.Context, user User, planID string) (*Attempt, error) {
	plan, err := c.catalog.Resolve(planID)
	if err != nil {
		return nil, err
	}
	if c.paypal == nil {
		return nil, ErrUnknownPaymentMethod
	}

	p := c.paypal
	a := c.begin(ctx, user, plan, KindRecurring, p.Name())

	e, err := c.store.GetOrCreate(ctx, user.ID)
	if err != nil {
		return a, c.fail(ctx, user, a, fmt.Errorf("failed to load entitlement: %w", err))
	}

	var sub *SubscriptionRef
	switch {
	case e.HasSubscription() && e.Provider == p.Name():
		sub, err = callProvider(ctx, c.timeout, func(ctx context.Context) (*SubscriptionRef, error) {
			return p.RetrieveSubscription(ctx, e.SubscriptionID)
		})
		if err != nil {
			return a, c.fail(ctx, user, a, fmt.Errorf("failed to retrieve subscription: %w", err))
		}
	case e.HasSubscription():
		return a, c.fail(ctx, user, a, ErrSubscriptionExists)
	default:
		sub, err = callProvider(ctx, c.timeout, func(ctx context.Context) (*SubscriptionRef, error) {
			return p.CreatePayPalSubscription(ctx, plan)
		})
		if err != nil {
			return a, c.fail(ctx, user, a, fmt.Errorf("failed to create subscription: %w", err))
		}
		e.Provider = p.Name()
		e.SubscriptionID = sub.ID
		e.ProductID = sub.ProductID
		if err := c.store.Save(ctx, e); err != nil {
			return a, c.fail(ctx, user, a, fmt.Errorf("failed to save subscription id: %w", err))
		}
	}

	a.Subscription = sub
	if sub.Status == SubscriptionActive {
		a.Status = StatusSucceeded
	}
	c.succeed(ctx, user, a)
	return a, nil
}

func (c *Checkout) getOrCreateCustomer(ctx context.Context, p Provider, user User, e *Entitlement, paymentMethod string) (*CustomerRef, error) {
	if e.CustomerID != "" {
		customer, err := callProvider(ctx, c.timeout, func(ctx context.Context) (*CustomerRef, error) {
			return p.RetrieveCustomer(ctx, e.CustomerID)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve customer: %w", err)
		}
		return customer, nil
	}

	customer, err := callProvider(ctx, c.timeout, func(ctx context.Context) (*CustomerRef, error) {
		return p.CreateCustomer(ctx, user.Email, paymentMethod)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	e.Provider = p.Name()
	e.CustomerID = customer.ID
	if err := c.store.Save(ctx, e); err != nil {
		c.log.ErrorContext(ctx, "customer created but id not persisted",
			logger.UserID(user.ID),
			logger.CustomerID(customer.ID),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to save customer id: %w", err)
	}
	return customer, nil
}

func (c *Checkout) getOrCreateSubscription(ctx context.Context, p Provider, e *Entitlement, customer *CustomerRef, plan Plan) (*SubscriptionRef, error) {
	if e.SubscriptionID != "" {
		sub, err := callProvider(ctx, c.timeout, func(ctx context.Context) (*SubscriptionRef, error) {
			return p.RetrieveSubscription(ctx, e.SubscriptionID)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve subscription: %w", err)
		}
		return sub, nil
	}

	sub, err := callProvider(ctx, c.timeout, func(ctx context.Context) (*SubscriptionRef, error) {
		return p.CreateSubscription(ctx, customer, plan.ProviderPlanID(p.Name()))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	e.Provider = p.Name()
	e.SubscriptionID = sub.ID
	e.ProductID = sub.ProductID
	if err := c.store.Save(ctx, e); err != nil {
		c.log.ErrorContext(ctx, "subscription created but id not persisted",
			logger.UserID(e.UserID),
			logger.SubscriptionID(sub.ID),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to save subscription id: %w", err)
	}
	return sub, nil
}

func (c *Checkout) providerFor(name ProviderName) (Provider, error) {
	switch {
	case name == "" || name == c.card.Name():
		return c.card, nil
	case c.paypal != nil && name == c.paypal.Name():
		return c.paypal, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

func (c *Checkout) begin(ctx context.Context, user User, plan Plan, kind PaymentKind, provider ProviderName) *Attempt {
	a := &Attempt{Plan: plan, Kind: kind, Provider: provider, Status: StatusNotInitiated}
	c.observers.notify(ctx, Lifecycle{
		Stage:    StageCheckoutInProgress,
		Provider: provider,
		UserID:   user.ID,
		PlanID:   plan.ID,
		Kind:     kind,
		Status:   a.Status,
	})
	return a
}

func (c *Checkout) succeed(ctx context.Context, user User, a *Attempt) {
	c.observers.notify(ctx, Lifecycle{
		Stage:    StageCheckoutSucceeded,
		Provider: a.Provider,
		UserID:   user.ID,
		PlanID:   a.Plan.ID,
		Kind:     a.Kind,
		Status:   a.Status,
		Amount:   a.Plan.Amount,
		Currency: a.Plan.Currency,
	})
}

func (c *Checkout) fail(ctx context.Context, user User, a *Attempt, err error) error {
	level := slog.LevelWarn
	if errors.Is(err, ErrProviderUnavailable) {
		level = slog.LevelError
	}
	c.log.Log(ctx, level, "checkout failed",
		logger.UserID(user.ID),
		logger.Provider(string(a.Provider)),
		logger.PlanID(string(a.Plan.ID)),
		logger.Error(err),
	)
	c.observers.notify(ctx, Lifecycle{
		Stage:    StageCheckoutFailed,
		Provider: a.Provider,
		UserID:   user.ID,
		PlanID:   a.Plan.ID,
		Kind:     a.Kind,
		Status:   a.Status,
		Err:      err,
	})
	return err
}

func kindOf(automatic bool) PaymentKind {
	if automatic {
		return KindRecurring
	}
	return KindOneTime
}
