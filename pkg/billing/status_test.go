package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/prolessons/pkg/billing"
)

func TestPaymentStatus_Context(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status billing.PaymentStatus
		tag    string
		title  string
	}{
		{billing.StatusNotInitiated, "info", "Pending"},
		{billing.StatusRequiresAction, "warning", "Action required"},
		{billing.StatusSucceeded, "success", "Success"},
		{billing.StatusSubscriptionCanceled, "info", "Subscription canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			t.Parallel()
			ctx := tt.status.Context()
			assert.Equal(t, tt.tag, ctx.Tag)
			assert.Equal(t, tt.title, ctx.Title)
			assert.NotEmpty(t, ctx.Msg)
			assert.Equal(t, tt.status.Message(), ctx.Msg)
		})
	}
}

func TestPaymentStatus_ZeroValue(t *testing.T) {
	t.Parallel()

	var s billing.PaymentStatus
	assert.Equal(t, billing.StatusNotInitiated.Context(), s.Context())
	assert.Equal(t, billing.StatusNotInitiated.Context(), billing.PaymentStatus("bogus").Context())
}

func TestFailureContext(t *testing.T) {
	t.Parallel()

	ctx := billing.FailureContext("Your card was declined.")
	assert.Equal(t, billing.StatusContext{
		Msg:   "Your card was declined.",
		Tag:   "danger",
		Title: "Payment failed",
	}, ctx)
}
