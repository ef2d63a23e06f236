package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/prolessons/pkg/logger"
)

// Reconciler turns verified provider webhooks into entitlement updates.
// Unknown event types, unknown users and unknown amounts are acknowledged
// without changes so providers do not retry them.
type Reconciler struct {
	catalog   *Catalog
	store     EntitlementStore
	providers map[ProviderName]Provider
	users     UserDirectory
	ledger    EventLedger
	monotonic bool
	timeout   time.Duration
	now       func() time.Time
	log       *slog.Logger
	observers observers
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithWebhookProviders registers providers whose webhooks are accepted.
func WithWebhookProviders(ps ...Provider) ReconcilerOption {
	return func(r *Reconciler) {
		for _, p := range ps {
			if p != nil {
				r.providers[p.Name()] = p
			}
		}
	}
}

// WithUserDirectory enables the email fallback when no stored identifier matches.
func WithUserDirectory(d UserDirectory) ReconcilerOption {
	return func(r *Reconciler) { r.users = d }
}

// WithEventLedger skips events whose id was already processed.
func WithEventLedger(l EventLedger) ReconcilerOption {
	return func(r *Reconciler) { r.ledger = l }
}

// WithMonotonicEntitlement refuses updates that would move the PRO end date backwards.
func WithMonotonicEntitlement() ReconcilerOption {
	return func(r *Reconciler) { r.monotonic = true }
}

// WithWebhookTimeout bounds provider calls made while reconciling.
func WithWebhookTimeout(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d >= 0 {
			r.timeout = d
		}
	}
}

// WithClock overrides the time source used for one-time grants.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithReconcilerLogger sets the logger.
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// WithReconcilerObserver registers a lifecycle observer.
func WithReconcilerObserver(o Observer) ReconcilerOption {
	return func(r *Reconciler) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// NewReconciler creates a Reconciler. Panics on nil dependencies.
func NewReconciler(catalog *Catalog, store EntitlementStore, opts ...ReconcilerOption) *Reconciler {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if store == nil {
		panic("billing: EntitlementStore is required")
	}

	r := &Reconciler{
		catalog:   catalog,
		store:     store,
		providers: make(map[ProviderName]Provider),
		timeout:   30 * time.Second,
		now:       func() time.Time { return time.Now().UTC() },
		log:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("reconciler"))
	return r
}

// Handle verifies and applies one webhook delivery.
// Only ErrInvalidSignature, ErrMalformedPayload and ErrUnknownProvider signal a
// rejected delivery; other errors mean the event was not durably processed.
func (r *Reconciler) Handle(ctx context.Context, provider ProviderName, payload []byte, header http.Header) error {
	p, ok := r.providers[provider]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	event, err := p.ParseWebhook(ctx, payload, header)
	if err != nil {
		if !errors.Is(err, ErrInvalidSignature) && !errors.Is(err, ErrMalformedPayload) {
			err = errors.Join(ErrMalformedPayload, err)
		}
		// Payload contents are never logged for rejected deliveries.
		r.log.WarnContext(ctx, "webhook rejected",
			logger.Provider(string(provider)),
			slog.Int("payload_size", len(payload)),
			logger.Error(err),
		)
		r.observers.notify(ctx, Lifecycle{Stage: StageWebhookRejected, Provider: provider, Err: err})
		return err
	}

	log := r.log.With(
		logger.Provider(string(provider)),
		logger.EventID(event.ID),
		logger.EventType(event.ProviderType),
	)
	r.observers.notify(ctx, Lifecycle{Stage: StageWebhookInProgress, Provider: provider, Event: event.Type})

	if event.Type == EventUnknown {
		log.DebugContext(ctx, "webhook event ignored")
		r.ignored(ctx, event, nil)
		return nil
	}

	if r.ledger != nil && event.ID != "" {
		first, err := r.ledger.Claim(ctx, provider, event.ID)
		switch {
		case err != nil:
			log.WarnContext(ctx, "event ledger unavailable", logger.Error(err))
		case !first:
			log.InfoContext(ctx, "duplicate webhook event")
			r.ignored(ctx, event, nil)
			return nil
		}
	}

	if err := r.apply(ctx, log, p, event); err != nil {
		if r.ledger != nil && event.ID != "" {
			if rerr := r.ledger.Release(ctx, provider, event.ID); rerr != nil {
				log.WarnContext(ctx, "failed to release event claim", logger.Error(rerr))
			}
		}
		log.ErrorContext(ctx, "failed to apply webhook event", logger.Error(err))
		return err
	}
	return nil
}

func (r *Reconciler) apply(ctx context.Context, log *slog.Logger, p Provider, event *WebhookEvent) error {
	switch event.Type {
	case EventRecurringPaymentSucceeded:
		return r.applyRecurring(ctx, log, p, event)
	case EventOneTimePaymentSucceeded:
		return r.applyOneTime(ctx, log, event)
	}
	r.ignored(ctx, event, nil)
	return nil
}

func (r *Reconciler) applyRecurring(ctx context.Context, log *slog.Logger, p Provider, event *WebhookEvent) error {
	if !event.Paid {
		log.InfoContext(ctx, "recurring payment not paid")
		r.ignored(ctx, event, nil)
		return nil
	}

	e, err := r.resolve(ctx, event, LookupSubscriptionID, LookupCustomerID)
	if errors.Is(err, ErrUserNotFound) {
		log.WarnContext(ctx, "no user for recurring payment", logger.SubscriptionID(event.SubscriptionID))
		r.ignored(ctx, event, err)
		return nil
	}
	if err != nil {
		return err
	}

	periodEnd := event.PeriodEnd
	if periodEnd == nil && event.SubscriptionID != "" {
		sub, err := callProvider(ctx, r.timeout, func(ctx context.Context) (*SubscriptionRef, error) {
			return p.RetrieveSubscription(ctx, event.SubscriptionID)
		})
		if err != nil {
			return fmt.Errorf("failed to retrieve subscription: %w", err)
		}
		end, ok := r.subscriptionPeriodEnd(sub)
		if !ok {
			log.WarnContext(ctx, "subscription has no period end",
				logger.SubscriptionID(event.SubscriptionID),
				slog.String("status", sub.Status),
			)
			r.ignored(ctx, event, nil)
			return nil
		}
		periodEnd = end
	}

	until, err := NormalizeDate(periodEnd)
	if err != nil {
		return errors.Join(ErrMalformedPayload, err)
	}
	return r.grant(ctx, log, e, until, event)
}

func (r *Reconciler) applyOneTime(ctx context.Context, log *slog.Logger, event *WebhookEvent) error {
	plan, ok := r.catalog.PlanByAmount(event.Amount, event.Currency)
	if !ok {
		log.ErrorContext(ctx, "unrecognized payment amount",
			slog.Int64("amount", event.Amount),
			slog.String("currency", event.Currency),
		)
		r.ignored(ctx, event, nil)
		return nil
	}

	e, err := r.resolve(ctx, event, LookupOrderID)
	if errors.Is(err, ErrUserNotFound) {
		log.WarnContext(ctx, "no user for one-time payment")
		r.ignored(ctx, event, err)
		return nil
	}
	if err != nil {
		return err
	}

	until := ToDate(r.now()).Add(plan.OneTimePeriod())
	return r.grant(ctx, log, e, until, event)
}

// subscriptionPeriodEnd returns the paid period end reported by the provider.
// Canceled subscriptions may carry only the last payment time, in which case
// the plan period is added to it.
func (r *Reconciler) subscriptionPeriodEnd(sub *SubscriptionRef) (time.Time, bool) {
	if !sub.PeriodEnd.IsZero() {
		return sub.PeriodEnd, true
	}
	if sub.LastPaymentAt.IsZero() {
		return time.Time{}, false
	}
	plan, ok := r.catalog.PlanByProviderID(sub.ProductID)
	if !ok {
		return time.Time{}, false
	}
	return sub.LastPaymentAt.Add(plan.OneTimePeriod()), true
}

// resolve finds the entitlement by the stored identifiers carried in the event,
// falling back to the email address.
func (r *Reconciler) resolve(ctx context.Context, event *WebhookEvent, kinds ...LookupKind) (*Entitlement, error) {
	for _, kind := range kinds {
		var value string
		switch kind {
		case LookupSubscriptionID:
			value = event.SubscriptionID
		case LookupCustomerID:
			value = event.CustomerID
		case LookupOrderID:
			value = event.OrderID
		}
		if value == "" {
			continue
		}
		e, err := r.store.FindBy(ctx, Lookup{Kind: kind, Value: value})
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrEntitlementNotFound) {
			return nil, fmt.Errorf("failed to find entitlement: %w", err)
		}
	}

	if event.Email == "" || r.users == nil {
		return nil, ErrUserNotFound
	}
	u, err := r.users.FindByEmail(ctx, event.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return r.store.GetOrCreate(ctx, u.ID)
}

func (r *Reconciler) grant(ctx context.Context, log *slog.Logger, e *Entitlement, until time.Time, event *WebhookEvent) error {
	if r.monotonic && e.ProUntil != nil && until.Before(*e.ProUntil) {
		log.InfoContext(ctx, "stale entitlement update skipped",
			logger.UserID(e.UserID),
			slog.Time("pro_until", *e.ProUntil),
			slog.Time("proposed", until),
		)
		r.ignored(ctx, event, nil)
		return nil
	}

	if err := r.store.UpdateProUntil(ctx, e.UserID, until); err != nil {
		return fmt.Errorf("failed to update entitlement: %w", err)
	}

	log.InfoContext(ctx, "entitlement updated",
		logger.UserID(e.UserID),
		slog.Time("pro_until", until),
	)
	r.observers.notify(ctx, Lifecycle{
		Stage:    StageWebhookApplied,
		Provider: event.Provider,
		UserID:   e.UserID,
		Event:    event.Type,
		Amount:   event.Amount,
		Currency: event.Currency,
		ProUntil: until,
	})
	return nil
}

func (r *Reconciler) ignored(ctx context.Context, event *WebhookEvent, err error) {
	r.observers.notify(ctx, Lifecycle{
		Stage:    StageWebhookIgnored,
		Provider: event.Provider,
		Event:    event.Type,
		Err:      err,
	})
}
