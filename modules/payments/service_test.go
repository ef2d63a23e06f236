package payments_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/prolessons/handler"
	"github.com/dmitrymomot/prolessons/modules/payments"
	"github.com/dmitrymomot/prolessons/pkg/billing"
)

var now = time.Date(2024, time.March, 1, 15, 4, 5, 0, time.UTC)

type envelope struct {
	Data  json.RawMessage      `json:"data"`
	Error *handler.ErrorDetail `json:"error"`
}

type testEnv struct {
	router http.Handler
	store  billing.EntitlementStore
	card   *billing.FakeProvider
	paypal *billing.FakeProvider
	user   billing.User
}

func newEnv(t *testing.T, store billing.EntitlementStore, cardOpts ...billing.FakeOption) *testEnv {
	t.Helper()

	catalog, err := billing.NewCatalog(billing.PlansConfig{
		StripeMonthlyID: "price_monthly",
		StripeAnnualID:  "price_annual",
		PayPalMonthlyID: "P-MONTHLY",
		PayPalAnnualID:  "P-ANNUAL",
	})
	require.NoError(t, err)

	if store == nil {
		store = billing.NewMemoryStore()
	}
	card := billing.NewFakeProvider(append([]billing.FakeOption{billing.WithFakeName(billing.ProviderStripe)}, cardOpts...)...)
	paypal := billing.NewFakeProvider(billing.WithFakeName(billing.ProviderPayPal))

	checkout := billing.NewCheckout(catalog, store, card, billing.WithPayPal(paypal))
	reconciler := billing.NewReconciler(catalog, store,
		billing.WithWebhookProviders(card, paypal),
		billing.WithClock(func() time.Time { return now }),
	)
	svc := payments.NewService(checkout, reconciler, store,
		payments.WithCatalog(catalog),
		payments.WithPublishableKey("pk_test"),
		payments.WithClock(func() time.Time { return now }),
	)

	return &testEnv{
		router: payments.Router(payments.RouterOptions{Service: svc}),
		store:  store,
		card:   card,
		paypal: paypal,
		user:   billing.User{ID: uuid.New(), Email: "student@example.com"},
	}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(b)))
	r.Header.Set("Content-Type", "application/json")
	return e.do(t, r)
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(t, r)
}

func (e *testEnv) do(t *testing.T, r *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	r.Header.Set(payments.HeaderUserID, e.user.ID.String())
	r.Header.Set(payments.HeaderUserEmail, e.user.Email)

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)

	var body envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestCheckoutForm(t *testing.T) {
	t.Parallel()

	t.Run("card", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t, nil)

		w, body := env.postJSON(t, "/checkout", map[string]any{
			"payment_method": "card",
			"automatic":      true,
			"plan":           "m",
		})
		require.Equal(t, http.StatusOK, w.Code)

		form := decode[billing.CheckoutForm](t, body.Data)
		assert.Equal(t, billing.PlanMonthly, form.PlanID)
		assert.Equal(t, "price_monthly", form.ProviderPlanID)
		assert.Equal(t, "student@example.com", form.Email)
		assert.Equal(t, "$19.95", form.Amount)
		assert.True(t, form.Automatic)
	})

	t.Run("paypal from form body", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t, nil)

		w, body := env.postForm(t, "/checkout", url.Values{
			"payment_method": {"paypal"},
			"plan":           {"a"},
		})
		require.Equal(t, http.StatusOK, w.Code)

		form := decode[billing.CheckoutForm](t, body.Data)
		assert.Equal(t, "P-ANNUAL", form.ProviderPlanID)
		assert.False(t, form.Automatic)
	})

	t.Run("invalid plan", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t, nil)

		w, body := env.postJSON(t, "/checkout", map[string]any{"payment_method": "card", "plan": "weekly"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		require.NotNil(t, body.Error)
		assert.Contains(t, body.Error.Details, "plan")
	})

	t.Run("unknown payment method", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t, nil)

		w, body := env.postJSON(t, "/checkout", map[string]any{"payment_method": "bitcoin", "plan": "m"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		require.NotNil(t, body.Error)
		assert.Contains(t, body.Error.Details, "payment_method")
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t, nil)

		w, _ := env.postJSON(t, "/checkout", map[string]any{"plan": "m", "coupon": "FREE"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRequireUser(t *testing.T) {
	t.Parallel()

	env := newEnv(t, nil)

	tests := []struct {
		name string
		id   string
	}{
		{"missing", ""},
		{"invalid", "not-a-uuid"},
		{"nil uuid", uuid.Nil.String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/entitlement", nil)
			if tt.id != "" {
				r.Header.Set(payments.HeaderUserID, tt.id)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, r)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

type recorderFunc func(ctx context.Context, user billing.User) error

func (f recorderFunc) Remember(ctx context.Context, user billing.User) error { return f(ctx, user) }

func TestHeaderUserResolver(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(payments.HeaderUserID, id.String())
	r.Header.Set(payments.HeaderUserEmail, " student@example.com ")

	t.Run("records user", func(t *testing.T) {
		t.Parallel()
		var seen billing.User
		resolver := payments.NewHeaderUserResolver(recorderFunc(func(_ context.Context, u billing.User) error {
			seen = u
			return nil
		}), nil)

		user, err := resolver.Resolve(r)
		require.NoError(t, err)
		assert.Equal(t, billing.User{ID: id, Email: "student@example.com"}, user)
		assert.Equal(t, user, seen)
	})

	t.Run("recorder failure", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("db down")
		resolver := payments.NewHeaderUserResolver(recorderFunc(func(context.Context, billing.User) error { return boom }), nil)

		_, err := resolver.Resolve(r)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("email held by another user is skipped", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := slog.New(slog.NewTextHandler(&buf, nil))
		resolver := payments.NewHeaderUserResolver(recorderFunc(func(_ context.Context, u billing.User) error {
			return fmt.Errorf("%w: %q", billing.ErrEmailTaken, u.Email)
		}), log)

		user, err := resolver.Resolve(r)
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
		assert.Contains(t, buf.String(), "user email not recorded")
	})

	t.Run("checkout proceeds when the email is taken", func(t *testing.T) {
		t.Parallel()
		resolver := payments.NewHeaderUserResolver(recorderFunc(func(context.Context, billing.User) error {
			return billing.ErrEmailTaken
		}), nil)
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := payments.UserFromContext(r.Context())
			assert.True(t, ok)
			assert.Equal(t, id, user.ID)
			w.WriteHeader(http.StatusNoContent)
		})

		w := httptest.NewRecorder()
		payments.RequireUser(resolver, handler.NewErrorHandler(nil))(next).ServeHTTP(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}
