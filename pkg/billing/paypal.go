package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/plutov/paypal/v4"
)

// PayPal environments.
const (
	PayPalModeSandbox = "sandbox"
	PayPalModeLive    = "live"
)

// PayPalConfig holds configuration for the PayPal provider.
type PayPalConfig struct {
	ClientID     string `env:"PAYPAL_CLIENT_ID,required"`
	ClientSecret string `env:"PAYPAL_CLIENT_SECRET,required"`
	WebhookID    string `env:"PAYPAL_WEBHOOK_ID,required"`
	Mode         string `env:"PAYPAL_MODE" envDefault:"sandbox"`
	// APIBase overrides the endpoint selected by Mode.
	APIBase      string `env:"PAYPAL_API_BASE"`
}

// Validate reports missing secrets and unknown modes.
func (c PayPalConfig) Validate() error {
	switch {
	case c.ClientID == "" || c.ClientSecret == "":
		return ErrMissingSecretKey
	case c.WebhookID == "":
		return ErrMissingWebhookSecret
	}
	if _, err := c.apiBase(); err != nil {
		return err
	}
	return nil
}

func (c PayPalConfig) apiBase() (string, error) {
	if c.APIBase != "" {
		return strings.TrimSuffix(c.APIBase, "/"), nil
	}
	switch strings.ToLower(c.Mode) {
	case PayPalModeSandbox, "":
		return paypal.APIBaseSandBox, nil
	case PayPalModeLive:
		return paypal.APIBaseLive, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidProviderMode, c.Mode)
}

const (
	paypalSaleCompleted  = "PAYMENT.SALE.COMPLETED"
	paypalOrderApproved  = "CHECKOUT.ORDER.APPROVED"
	paypalStatusActive   = "ACTIVE"
	paypalStatusPending  = "APPROVAL_PENDING"
	paypalStatusCanceled = "CANCELLED"
)

// PayPalProvider implements the PayPal order and subscription flows.
// Card-only operations return ErrUnsupportedOperation.
type PayPalProvider struct {
	client *paypal.Client
	config PayPalConfig
}

// NewPayPalProvider creates a PayPal provider. No request is made until first
// use; the client fetches and refreshes its access token on demand.
func NewPayPalProvider(config PayPalConfig) (*PayPalProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	base, _ := config.apiBase()

	c, err := paypal.NewClient(config.ClientID, config.ClientSecret, base)
	if err != nil {
		return nil, fmt.Errorf("failed to create paypal client: %w", err)
	}
	return &PayPalProvider{client: c, config: config}, nil
}

func (p *PayPalProvider) Name() ProviderName { return ProviderPayPal }

// ClientID returns the id the browser uses with the PayPal JS SDK.
func (p *PayPalProvider) ClientID() string { return p.config.ClientID }

func (p *PayPalProvider) CreateOneTimeOrder(ctx context.Context, plan Plan) (*OrderRef, error) {
	units := []paypal.PurchaseUnitRequest{{
		Description: HumanDetails(plan, false),
		Amount: &paypal.PurchaseUnitAmount{
			Currency: strings.ToUpper(plan.Currency),
			Value:    minorToDecimal(plan.Amount),
		},
	}}
	order, err := p.client.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, nil)
	if err != nil {
		return nil, paypalError(err)
	}
	return &OrderRef{
		ID:         order.ID,
		Status:     order.Status,
		ApproveURL: approveLink(order.Links),
	}, nil
}

func (p *PayPalProvider) CreatePayPalSubscription(ctx context.Context, plan Plan) (*SubscriptionRef, error) {
	if plan.PayPalPlanID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingPlanID, plan.ID)
	}
	sub, err := p.client.CreateSubscription(ctx, paypal.SubscriptionBase{PlanID: plan.PayPalPlanID})
	if err != nil {
		return nil, paypalError(err)
	}
	return &SubscriptionRef{
		ID:         sub.ID,
		Status:     paypalStatus(string(sub.SubscriptionStatus)),
		ProductID:  plan.PayPalPlanID,
		ApproveURL: approveLink(sub.Links),
	}, nil
}

// paypalSubscription is the subset of GET /v1/billing/subscriptions/{id} we read.
type paypalSubscription struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	PlanID      string        `json:"plan_id"`
	Links       []paypal.Link `json:"links"`
	BillingInfo struct {
		NextBillingTime *time.Time `json:"next_billing_time"`
		LastPayment     *struct {
			Time *time.Time `json:"time"`
		} `json:"last_payment"`
	} `json:"billing_info"`
}

func (p *PayPalProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionRef, error) {
	req, err := p.client.NewRequest(ctx, http.MethodGet, p.client.APIBase+"/v1/billing/subscriptions/"+subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build paypal request: %w", err)
	}
	var sub paypalSubscription
	if err := p.client.SendWithAuth(req, &sub); err != nil {
		return nil, paypalError(err)
	}
	return paypalSubscriptionRef(sub), nil
}

// paypalSubscriptionRef maps a subscription resource. Canceled subscriptions
// have no next billing time, so PeriodEnd stays zero.
func paypalSubscriptionRef(sub paypalSubscription) *SubscriptionRef {
	ref := &SubscriptionRef{
		ID:         sub.ID,
		Status:     paypalStatus(sub.Status),
		ProductID:  sub.PlanID,
		ApproveURL: approveLink(sub.Links),
	}
	if t := sub.BillingInfo.NextBillingTime; t != nil && !t.IsZero() {
		ref.PeriodEnd = t.UTC()
	}
	if lp := sub.BillingInfo.LastPayment; lp != nil && lp.Time != nil && !lp.Time.IsZero() {
		ref.LastPaymentAt = lp.Time.UTC()
	}
	return ref
}

func (p *PayPalProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if err := p.client.CancelSubscription(ctx, subscriptionID, "Canceled by the customer"); err != nil {
		return paypalError(err)
	}
	return nil
}

func (p *PayPalProvider) CreateCustomer(ctx context.Context, email, paymentMethod string) (*CustomerRef, error) {
	return nil, unsupported("create customer")
}

func (p *PayPalProvider) RetrieveCustomer(ctx context.Context, customerID string) (*CustomerRef, error) {
	return nil, unsupported("retrieve customer")
}

func (p *PayPalProvider) CreateSubscription(ctx context.Context, customer *CustomerRef, providerPlanID string) (*SubscriptionRef, error) {
	return nil, unsupported("create card subscription")
}

func (p *PayPalProvider) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntentRef, error) {
	return nil, unsupported("create payment intent")
}

func (p *PayPalProvider) AttachPaymentMethod(ctx context.Context, intentID, paymentMethod string) (*PaymentIntentRef, error) {
	return nil, unsupported("attach payment method")
}

func (p *PayPalProvider) RetrievePaymentIntent(ctx context.Context, intentID string) (*PaymentIntentRef, error) {
	return nil, unsupported("retrieve payment intent")
}

func (p *PayPalProvider) ConfirmPaymentIntent(ctx context.Context, intentID string) (*PaymentIntentRef, error) {
	return nil, unsupported("confirm payment intent")
}

func (p *PayPalProvider) RetrieveInvoice(ctx context.Context, invoiceID string) (*InvoiceRef, error) {
	return nil, unsupported("retrieve invoice")
}

// ParseWebhook verifies the delivery through PayPal's verify-webhook-signature
// API and normalizes PAYMENT.SALE.COMPLETED and CHECKOUT.ORDER.APPROVED events.
func (p *PayPalProvider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*WebhookEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/paypal-webhooks", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	req.Header = header.Clone()

	resp, err := p.client.VerifyWebhookSignature(ctx, req, p.config.WebhookID)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if resp.VerificationStatus != "SUCCESS" {
		return nil, fmt.Errorf("%w: verification status %q", ErrInvalidSignature, resp.VerificationStatus)
	}

	return ParsePayPalEvent(payload)
}

type paypalEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type paypalSale struct {
	ID                 string `json:"id"`
	State              string `json:"state"`
	BillingAgreementID string `json:"billing_agreement_id"`
	Amount             struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Amount struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
	} `json:"purchase_units"`
	Payer struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
}

// ParsePayPalEvent normalizes an already verified PayPal webhook body.
func ParsePayPalEvent(payload []byte) (*WebhookEvent, error) {
	var e paypalEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}

	event := &WebhookEvent{
		ID:           e.ID,
		Provider:     ProviderPayPal,
		Type:         EventUnknown,
		ProviderType: e.EventType,
	}

	switch e.EventType {
	case paypalSaleCompleted:
		var sale paypalSale
		if err := json.Unmarshal(e.Resource, &sale); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		if sale.BillingAgreementID == "" {
			// A sale outside a subscription.
			return event, nil
		}
		event.Type = EventRecurringPaymentSucceeded
		event.SubscriptionID = sale.BillingAgreementID
		event.Paid = strings.EqualFold(sale.State, "completed")
		event.Currency = strings.ToLower(sale.Amount.Currency)
		if sale.Amount.Total != "" {
			amount, err := decimalToMinor(sale.Amount.Total)
			if err != nil {
				return nil, errors.Join(ErrMalformedPayload, err)
			}
			event.Amount = amount
		}

	case paypalOrderApproved:
		var order paypalOrder
		if err := json.Unmarshal(e.Resource, &order); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		if len(order.PurchaseUnits) == 0 {
			return nil, fmt.Errorf("%w: order has no purchase units", ErrMalformedPayload)
		}
		amount, err := decimalToMinor(order.PurchaseUnits[0].Amount.Value)
		if err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		event.Type = EventOneTimePaymentSucceeded
		event.OrderID = order.ID
		event.Email = order.Payer.EmailAddress
		event.Amount = amount
		event.Currency = strings.ToLower(order.PurchaseUnits[0].Amount.CurrencyCode)
		event.Paid = true
	}
	return event, nil
}

// CatalogKind selects a PayPal catalog collection.
type CatalogKind string

const (
	CatalogProduct CatalogKind = "product"
	CatalogPlan    CatalogKind = "plan"
)

// CatalogItem is one product or billing plan.
type CatalogItem struct {
	ID     string
	Name   string
	Status string
}

// CreateCatalogItem posts a product or plan document as-is.
func (p *PayPalProvider) CreateCatalogItem(ctx context.Context, kind CatalogKind, doc map[string]any) (*CatalogItem, error) {
	var path string
	switch kind {
	case CatalogProduct:
		path = "/v1/catalogs/products"
	case CatalogPlan:
		path = "/v1/billing/plans"
	default:
		return nil, fmt.Errorf("unknown catalog kind %q", kind)
	}
	req, err := p.client.NewRequest(ctx, http.MethodPost, p.client.APIBase+path, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build paypal request: %w", err)
	}
	var created struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := p.client.SendWithAuth(req, &created); err != nil {
		return nil, paypalError(err)
	}
	return &CatalogItem{ID: created.ID, Name: created.Name, Status: created.Status}, nil
}

// ListCatalog lists products or billing plans.
func (p *PayPalProvider) ListCatalog(ctx context.Context, kind CatalogKind) ([]CatalogItem, error) {
	if kind != CatalogProduct && kind != CatalogPlan {
		return nil, fmt.Errorf("unknown catalog kind %q", kind)
	}
	var items []CatalogItem
	switch kind {
	case CatalogProduct:
		resp, err := p.client.ListProducts(ctx, &paypal.ProductListParameters{})
		if err != nil {
			return nil, paypalError(err)
		}
		for _, pr := range resp.Products {
			items = append(items, CatalogItem{ID: pr.ID, Name: pr.Name})
		}
	case CatalogPlan:
		resp, err := p.client.ListSubscriptionPlans(ctx, &paypal.SubscriptionPlanListParameters{})
		if err != nil {
			return nil, paypalError(err)
		}
		for _, pl := range resp.Plans {
			items = append(items, CatalogItem{ID: pl.ID, Name: pl.Name, Status: string(pl.Status)})
		}
	}
	return items, nil
}

func approveLink(links []paypal.Link) string {
	for _, l := range links {
		if l.Rel == "approve" {
			return l.Href
		}
	}
	return ""
}

func paypalStatus(s string) string {
	switch strings.ToUpper(s) {
	case paypalStatusActive:
		return SubscriptionActive
	case paypalStatusPending:
		return SubscriptionApprovalPending
	case paypalStatusCanceled:
		return SubscriptionCanceled
	}
	return strings.ToLower(s)
}

func paypalError(err error) error {
	var pe *paypal.ErrorResponse
	if errors.As(err, &pe) && pe.Response != nil {
		code := pe.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return errors.Join(ErrProviderRejected, err)
		}
	}
	return errors.Join(ErrProviderUnavailable, err)
}

func unsupported(op string) error {
	return fmt.Errorf("%w: paypal cannot %s", errors.Join(ErrProviderRejected, ErrUnsupportedOperation), op)
}

// minorToDecimal renders minor units as a two-decimal string, e.g. 1995 -> "19.95".
func minorToDecimal(amount int64) string {
	sign := ""
	if amount < 0 {
		sign, amount = "-", -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

// decimalToMinor parses a decimal amount into minor units, e.g. "19.95" -> 1995.
func decimalToMinor(v string) (int64, error) {
	v = strings.TrimSpace(v)
	digits, negative := strings.CutPrefix(v, "-")
	whole, frac, _ := strings.Cut(digits, ".")
	if whole == "" || len(frac) > 2 {
		return 0, fmt.Errorf("invalid amount %q", v)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseUint(whole, 10, 56)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", v, err)
	}
	f, err := strconv.ParseUint(frac, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", v, err)
	}
	minor := int64(w)*100 + int64(f)
	if negative {
		return -minor, nil
	}
	return minor, nil
}
