package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Fake provider operation names, used with WithFailure and Calls.
const (
	OpCreateCustomer           = "create_customer"
	OpRetrieveCustomer         = "retrieve_customer"
	OpCreateSubscription       = "create_subscription"
	OpRetrieveSubscription     = "retrieve_subscription"
	OpCancelSubscription       = "cancel_subscription"
	OpCreatePaymentIntent      = "create_payment_intent"
	OpAttachPaymentMethod      = "attach_payment_method"
	OpRetrievePaymentIntent    = "retrieve_payment_intent"
	OpConfirmPaymentIntent     = "confirm_payment_intent"
	OpRetrieveInvoice          = "retrieve_invoice"
	OpCreateOneTimeOrder       = "create_onetime_order"
	OpCreatePayPalSubscription = "create_paypal_subscription"
)

// Fake webhook signature headers.
const (
	FakeSignatureHeader = "X-Webhook-Signature"
	FakeTimestampHeader = "X-Webhook-Timestamp"
)

// FakeProvider is a network-free Provider. By default every call succeeds:
// subscriptions are active and payment intents confirm to succeeded.
// Webhooks are HMAC-SHA256 signed FakeEvent JSON documents.
type FakeProvider struct {
	mu                 sync.Mutex
	name               ProviderName
	secret             string
	subscriptionStatus string
	confirmStatus      string
	periodEnd          time.Time
	lastPayment        time.Time
	productID          string
	maxAge             time.Duration
	failures           map[string]error
	calls              map[string]int
	seq                int
}

// FakeOption configures a FakeProvider.
type FakeOption func(*FakeProvider)

// WithFakeName makes the fake report another provider name.
func WithFakeName(name ProviderName) FakeOption {
	return func(f *FakeProvider) { f.name = name }
}

// WithWebhookSecret sets the webhook signing secret.
func WithWebhookSecret(secret string) FakeOption {
	return func(f *FakeProvider) { f.secret = secret }
}

// WithSubscriptionStatus sets the status of created and retrieved subscriptions.
func WithSubscriptionStatus(status string) FakeOption {
	return func(f *FakeProvider) { f.subscriptionStatus = status }
}

// WithConfirmStatus sets the status returned when confirming payment intents.
func WithConfirmStatus(status string) FakeOption {
	return func(f *FakeProvider) { f.confirmStatus = status }
}

// WithPeriodEnd sets the period end of subscriptions.
func WithPeriodEnd(t time.Time) FakeOption {
	return func(f *FakeProvider) { f.periodEnd = t }
}

// WithLastPayment sets the last payment time reported for subscriptions.
func WithLastPayment(t time.Time) FakeOption {
	return func(f *FakeProvider) { f.lastPayment = t }
}

// WithSubscriptionProduct sets the plan id reported for subscriptions.
func WithSubscriptionProduct(id string) FakeOption {
	return func(f *FakeProvider) { f.productID = id }
}

// WithFailure makes the named operation return err.
func WithFailure(op string, err error) FakeOption {
	return func(f *FakeProvider) { f.failures[op] = err }
}

// NewFakeProvider creates a FakeProvider.
func NewFakeProvider(opts ...FakeOption) *FakeProvider {
	f := &FakeProvider{
		name:               ProviderFake,
		secret:             "whsec_fake",
		subscriptionStatus: SubscriptionActive,
		confirmStatus:      IntentSucceeded,
		periodEnd:          time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC),
		productID:          "prod_fake",
		maxAge:             5 * time.Minute,
		failures:           make(map[string]error),
		calls:              make(map[string]int),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FakeProvider) Name() ProviderName { return f.name }

// Calls returns how many times op was invoked.
func (f *FakeProvider) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FakeProvider) record(op string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if err := f.failures[op]; err != nil {
		return "", err
	}
	f.seq++
	return strconv.Itoa(f.seq), nil
}

func (f *FakeProvider) CreateCustomer(ctx context.Context, email, paymentMethod string) (*CustomerRef, error) {
	n, err := f.record(OpCreateCustomer)
	if err != nil {
		return nil, err
	}
	return &CustomerRef{ID: "cus_fake_" + n, Email: email}, nil
}

func (f *FakeProvider) RetrieveCustomer(ctx context.Context, customerID string) (*CustomerRef, error) {
	if _, err := f.record(OpRetrieveCustomer); err != nil {
		return nil, err
	}
	return &CustomerRef{ID: customerID}, nil
}

func (f *FakeProvider) CreateSubscription(ctx context.Context, customer *CustomerRef, providerPlanID string) (*SubscriptionRef, error) {
	n, err := f.record(OpCreateSubscription)
	if err != nil {
		return nil, err
	}
	return f.subscription("sub_fake_"+n, customer.ID, n), nil
}

func (f *FakeProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionRef, error) {
	n, err := f.record(OpRetrieveSubscription)
	if err != nil {
		return nil, err
	}
	return f.subscription(subscriptionID, "", n), nil
}

func (f *FakeProvider) subscription(id, customerID, n string) *SubscriptionRef {
	return &SubscriptionRef{
		ID:            id,
		Status:        f.subscriptionStatus,
		CustomerID:    customerID,
		ProductID:     f.productID,
		PeriodEnd:     f.periodEnd,
		LastPaymentAt: f.lastPayment,
		LatestInvoice: &InvoiceRef{
			ID:            "in_fake_" + n,
			PaymentIntent: &PaymentIntentRef{ID: "pi_fake_" + n, ClientSecret: "pi_fake_" + n + "_secret"},
		},
	}
}

func (f *FakeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	_, err := f.record(OpCancelSubscription)
	return err
}

func (f *FakeProvider) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntentRef, error) {
	n, err := f.record(OpCreatePaymentIntent)
	if err != nil {
		return nil, err
	}
	return &PaymentIntentRef{
		ID:           "pi_fake_" + n,
		ClientSecret: "pi_fake_" + n + "_secret",
		Status:       "requires_payment_method",
	}, nil
}

func (f *FakeProvider) AttachPaymentMethod(ctx context.Context, intentID, paymentMethod string) (*PaymentIntentRef, error) {
	if _, err := f.record(OpAttachPaymentMethod); err != nil {
		return nil, err
	}
	return &PaymentIntentRef{ID: intentID, ClientSecret: intentID + "_secret", Status: "requires_confirmation"}, nil
}

func (f *FakeProvider) RetrievePaymentIntent(ctx context.Context, intentID string) (*PaymentIntentRef, error) {
	if _, err := f.record(OpRetrievePaymentIntent); err != nil {
		return nil, err
	}
	return &PaymentIntentRef{ID: intentID, ClientSecret: intentID + "_secret", Status: f.confirmStatus}, nil
}

func (f *FakeProvider) ConfirmPaymentIntent(ctx context.Context, intentID string) (*PaymentIntentRef, error) {
	if _, err := f.record(OpConfirmPaymentIntent); err != nil {
		return nil, err
	}
	return &PaymentIntentRef{ID: intentID, ClientSecret: intentID + "_secret", Status: f.confirmStatus}, nil
}

func (f *FakeProvider) RetrieveInvoice(ctx context.Context, invoiceID string) (*InvoiceRef, error) {
	n, err := f.record(OpRetrieveInvoice)
	if err != nil {
		return nil, err
	}
	return &InvoiceRef{
		ID:            invoiceID,
		PaymentIntent: &PaymentIntentRef{ID: "pi_fake_" + n, ClientSecret: "pi_fake_" + n + "_secret"},
	}, nil
}

func (f *FakeProvider) CreateOneTimeOrder(ctx context.Context, plan Plan) (*OrderRef, error) {
	n, err := f.record(OpCreateOneTimeOrder)
	if err != nil {
		return nil, err
	}
	return &OrderRef{
		ID:         "order_fake_" + n,
		Status:     "CREATED",
		ApproveURL: "https://fake.invalid/approve/order_fake_" + n,
	}, nil
}

func (f *FakeProvider) CreatePayPalSubscription(ctx context.Context, plan Plan) (*SubscriptionRef, error) {
	n, err := f.record(OpCreatePayPalSubscription)
	if err != nil {
		return nil, err
	}
	sub := f.subscription("I-FAKE"+n, "", n)
	sub.ApproveURL = "https://fake.invalid/approve/I-FAKE" + n
	return sub, nil
}

// FakeEvent is the webhook document understood by FakeProvider.
type FakeEvent struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
	Email          string `json:"email,omitempty"`
	Amount         int64  `json:"amount,omitempty"`
	Currency       string `json:"currency,omitempty"`
	PeriodEnd      any    `json:"period_end,omitempty"`
	Paid           bool   `json:"paid,omitempty"`
}

// SignWebhook returns the headers that authenticate payload.
func (f *FakeProvider) SignWebhook(payload []byte) http.Header {
	ts := time.Now().Unix()
	h := make(http.Header)
	h.Set(FakeSignatureHeader, f.sign(ts, payload))
	h.Set(FakeTimestampHeader, strconv.FormatInt(ts, 10))
	return h
}

func (f *FakeProvider) sign(ts int64, payload []byte) string {
	m := hmac.New(sha256.New, []byte(f.secret))
	fmt.Fprintf(m, "%d.%s", ts, payload)
	return hex.EncodeToString(m.Sum(nil))
}

func (f *FakeProvider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*WebhookEvent, error) {
	sig := header.Get(FakeSignatureHeader)
	ts, err := strconv.ParseInt(header.Get(FakeTimestampHeader), 10, 64)
	if sig == "" || err != nil {
		return nil, fmt.Errorf("%w: missing signature headers", ErrInvalidSignature)
	}
	if f.maxAge > 0 && time.Since(time.Unix(ts, 0)) > f.maxAge {
		return nil, fmt.Errorf("%w: signature timestamp too old", ErrInvalidSignature)
	}
	if !hmac.Equal([]byte(f.sign(ts, payload)), []byte(sig)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}

	var fe FakeEvent
	if err := json.Unmarshal(payload, &fe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	event := &WebhookEvent{
		ID:             fe.ID,
		Provider:       f.name,
		Type:           EventUnknown,
		ProviderType:   fe.Type,
		SubscriptionID: fe.SubscriptionID,
		CustomerID:     fe.CustomerID,
		OrderID:        fe.OrderID,
		Email:          fe.Email,
		Amount:         fe.Amount,
		Currency:       fe.Currency,
		PeriodEnd:      fe.PeriodEnd,
		Paid:           fe.Paid,
	}
	switch EventType(fe.Type) {
	case EventRecurringPaymentSucceeded, EventOneTimePaymentSucceeded:
		event.Type = EventType(fe.Type)
	}
	return event, nil
}
