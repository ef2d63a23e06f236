package billing_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/dmitrymomot/prolessons/pkg/billing"
)

const stripeTestSecret = "whsec_test_secret"

func newStripe(t *testing.T) *billing.StripeProvider {
	t.Helper()
	p, err := billing.NewStripeProvider(billing.StripeConfig{
		SecretKey:         "sk_test_123",
		PublishableKey:    "pk_test_123",
		WebhookSigningKey: stripeTestSecret,
	}, nil)
	require.NoError(t, err)
	return p
}

func stripeHeader(payload []byte, secret string) http.Header {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	h := make(http.Header)
	h.Set("Stripe-Signature", signed.Header)
	return h
}

func TestStripeConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := billing.StripeConfig{SecretKey: "sk", PublishableKey: "pk", WebhookSigningKey: "whsec"}
	require.NoError(t, valid.Validate())

	c := valid
	c.SecretKey = ""
	assert.ErrorIs(t, c.Validate(), billing.ErrMissingSecretKey)

	c = valid
	c.PublishableKey = ""
	assert.ErrorIs(t, c.Validate(), billing.ErrMissingPublishableKey)

	c = valid
	c.WebhookSigningKey = ""
	assert.ErrorIs(t, c.Validate(), billing.ErrMissingWebhookSecret)

	_, err := billing.NewStripeProvider(c, nil)
	assert.ErrorIs(t, err, billing.ErrMissingWebhookSecret)
}

func TestStripeProvider_ParseWebhook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newStripe(t)
	assert.Equal(t, billing.ProviderStripe, p.Name())
	assert.Equal(t, "pk_test_123", p.PublishableKey())

	t.Run("invoice payment succeeded", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"id": "evt_invoice",
			"object": "event",
			"type": "invoice.payment_succeeded",
			"data": {"object": {
				"id": "in_1",
				"object": "invoice",
				"paid": true,
				"amount_paid": 1995,
				"currency": "usd",
				"customer": "cus_1",
				"customer_email": "buyer@example.com",
				"subscription": "sub_1",
				"lines": {"object": "list", "data": [
					{"id": "il_1", "object": "line_item", "type": "subscription", "period": {"start": 1707955200, "end": 1710545400}}
				]}
			}}
		}`)

		event, err := p.ParseWebhook(ctx, payload, stripeHeader(payload, stripeTestSecret))
		require.NoError(t, err)
		assert.Equal(t, "evt_invoice", event.ID)
		assert.Equal(t, billing.EventRecurringPaymentSucceeded, event.Type)
		assert.Equal(t, "invoice.payment_succeeded", event.ProviderType)
		assert.True(t, event.Paid)
		assert.Equal(t, "sub_1", event.SubscriptionID)
		assert.Equal(t, "cus_1", event.CustomerID)
		assert.Equal(t, "buyer@example.com", event.Email)
		assert.Equal(t, int64(1995), event.Amount)

		until, err := billing.NormalizeDate(event.PeriodEnd)
		require.NoError(t, err)
		assert.Equal(t, date(2024, time.March, 15), until)
	})

	t.Run("proration lines do not set the period", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"id": "evt_invoice_3",
			"type": "invoice.payment_succeeded",
			"data": {"object": {
				"id": "in_3",
				"paid": true,
				"subscription": "sub_1",
				"lines": {"object": "list", "data": [
					{"id": "il_p", "type": "subscription", "proration": true, "period": {"start": 1707955200, "end": 1708000000}},
					{"id": "il_i", "type": "invoiceitem", "period": {"start": 1707955200, "end": 1708100000}},
					{"id": "il_s", "type": "subscription", "period": {"start": 1707955200, "end": 1710545400}}
				]}
			}}
		}`)

		event, err := p.ParseWebhook(ctx, payload, stripeHeader(payload, stripeTestSecret))
		require.NoError(t, err)
		assert.Equal(t, int64(1710545400), event.PeriodEnd)
	})

	t.Run("only proration lines leave the period to the subscription", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"id": "evt_invoice_4",
			"type": "invoice.payment_succeeded",
			"data": {"object": {
				"id": "in_4",
				"paid": true,
				"subscription": "sub_1",
				"lines": {"object": "list", "data": [
					{"id": "il_p", "type": "subscription", "proration": true, "period": {"start": 1707955200, "end": 1708000000}}
				]}
			}}
		}`)

		event, err := p.ParseWebhook(ctx, payload, stripeHeader(payload, stripeTestSecret))
		require.NoError(t, err)
		assert.Nil(t, event.PeriodEnd)
		assert.Equal(t, "sub_1", event.SubscriptionID)
	})

	t.Run("invoice without line period", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"id": "evt_invoice_2",
			"type": "invoice.payment_succeeded",
			"data": {"object": {"id": "in_2", "paid": true, "subscription": "sub_1"}}
		}`)

		event, err := p.ParseWebhook(ctx, payload, stripeHeader(payload, stripeTestSecret))
		require.NoError(t, err)
		assert.Nil(t, event.PeriodEnd)
	})

	t.Run("one-time charge", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"id": "evt_charge",
			"type": "charge.succeeded",
			"data": {"object": {
				"id": "ch_1",
				"object": "charge",
				"paid": true,
				"amount": 19950,
				"currency": "usd",
				"billing_details": {"email": "billing@example.com"}
			}}
		}`)

		event, err := p.ParseWebhook(ctx, payload, stripeHeader(payload, stripeTestSecret))
		require.NoError(t, err)
		assert.Equal(t, billing.EventOneTimePaymentSucceeded, event.Type)
		assert.Equal(t, int64(19950), event.Amount)
		assert.Equal(t, "usd", event.Currency)
		assert.Equal(t, "billing@example.com", event.Email)
	})

	t.Run("subscription charge is left to the invoice event", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"id": "evt_charge_2",
			"type": "charge.succeeded",
			"data": {"object": {"id": "ch_2", "paid": true, "amount": 1995, "currency": "usd", "invoice": "in_1", "receipt_email": "buyer@example.com"}}
		}`)

		event, err := p.ParseWebhook(ctx, payload, stripeHeader(payload, stripeTestSecret))
		require.NoError(t, err)
		assert.Equal(t, billing.EventUnknown, event.Type)
	})

	t.Run("other event type", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{"id": "evt_other", "type": "customer.created", "data": {"object": {"id": "cus_1"}}}`)

		event, err := p.ParseWebhook(ctx, payload, stripeHeader(payload, stripeTestSecret))
		require.NoError(t, err)
		assert.Equal(t, billing.EventUnknown, event.Type)
		assert.Equal(t, "customer.created", event.ProviderType)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{"id": "evt_forged", "type": "charge.succeeded", "data": {"object": {"amount": 19950}}}`)

		_, err := p.ParseWebhook(ctx, payload, stripeHeader(payload, "whsec_other"))
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()
		_, err := p.ParseWebhook(ctx, []byte(`{}`), http.Header{})
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	})

	t.Run("signed garbage", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{"id": `)

		_, err := p.ParseWebhook(ctx, payload, stripeHeader(payload, stripeTestSecret))
		assert.ErrorIs(t, err, billing.ErrMalformedPayload)
	})
}

func TestStripeProvider_UnsupportedOperations(t *testing.T) {
	t.Parallel()

	p := newStripe(t)
	_, err := p.CreateOneTimeOrder(context.Background(), billing.Plan{})
	assert.ErrorIs(t, err, billing.ErrUnsupportedOperation)
	assert.ErrorIs(t, err, billing.ErrProviderRejected)

	_, err = p.CreatePayPalSubscription(context.Background(), billing.Plan{})
	assert.ErrorIs(t, err, billing.ErrUnsupportedOperation)
}
