package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/prolessons/pkg/billing"
)

var reconcileNow = time.Date(2024, time.March, 1, 15, 4, 5, 0, time.UTC)

type reconcilerEnv struct {
	store    *billing.MemoryStore
	provider *billing.FakeProvider
	user     billing.User
	r        *billing.Reconciler
}

func newReconcilerEnv(t *testing.T, opts ...billing.ReconcilerOption) *reconcilerEnv {
	t.Helper()

	env := &reconcilerEnv{
		store:    billing.NewMemoryStore(),
		provider: billing.NewFakeProvider(),
		user:     testUser(),
	}
	users := billing.UserDirectoryFunc(func(_ context.Context, email string) (billing.User, error) {
		if email == env.user.Email {
			return env.user, nil
		}
		return billing.User{}, billing.ErrUserNotFound
	})

	opts = append([]billing.ReconcilerOption{
		billing.WithWebhookProviders(env.provider),
		billing.WithUserDirectory(users),
		billing.WithClock(func() time.Time { return reconcileNow }),
	}, opts...)
	env.r = billing.NewReconciler(testCatalog(t), env.store, opts...)
	return env
}

func (env *reconcilerEnv) deliver(t *testing.T, e billing.FakeEvent) error {
	t.Helper()
	payload := fakePayload(t, e)
	return env.r.Handle(context.Background(), billing.ProviderFake, payload, env.provider.SignWebhook(payload))
}

func (env *reconcilerEnv) proUntil(t *testing.T) *time.Time {
	t.Helper()
	e, err := env.store.GetOrCreate(context.Background(), env.user.ID)
	require.NoError(t, err)
	return e.ProUntil
}

func (env *reconcilerEnv) subscribe(t *testing.T) {
	t.Helper()
	require.NoError(t, env.store.Save(context.Background(), &billing.Entitlement{
		UserID:         env.user.ID,
		Provider:       billing.ProviderFake,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
	}))
}

func recurring(id string, periodEnd any) billing.FakeEvent {
	return billing.FakeEvent{
		ID:             id,
		Type:           string(billing.EventRecurringPaymentSucceeded),
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		Paid:           true,
		PeriodEnd:      periodEnd,
	}
}

func oneTime(id string, amount int64) billing.FakeEvent {
	return billing.FakeEvent{
		ID:       id,
		Type:     string(billing.EventOneTimePaymentSucceeded),
		Email:    "buyer@example.com",
		Amount:   amount,
		Currency: "usd",
		Paid:     true,
	}
}

func TestReconciler_RecurringPayment(t *testing.T) {
	t.Parallel()

	t.Run("sets pro until to period end", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		env.subscribe(t)

		// 2024-03-15T23:30:00Z
		require.NoError(t, env.deliver(t, recurring("evt_1", 1710545400)))

		until := env.proUntil(t)
		require.NotNil(t, until)
		assert.Equal(t, date(2024, time.March, 15), *until)

		pro, err := billing.IsPro(context.Background(), env.store, env.user.ID, date(2024, time.March, 14).Add(23*time.Hour))
		require.NoError(t, err)
		assert.True(t, pro)

		pro, err = billing.IsPro(context.Background(), env.store, env.user.ID, date(2024, time.March, 15))
		require.NoError(t, err)
		assert.False(t, pro, "end date is exclusive")
	})

	t.Run("rfc3339 period end", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		env.subscribe(t)

		require.NoError(t, env.deliver(t, recurring("evt_1", "2024-03-16T01:30:00+02:00")))
		assert.Equal(t, date(2024, time.March, 15), *env.proUntil(t))
	})

	t.Run("missing period end is fetched from the provider", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		env.subscribe(t)

		require.NoError(t, env.deliver(t, recurring("evt_1", nil)))
		assert.Equal(t, date(2030, time.January, 1), *env.proUntil(t))
		assert.Equal(t, 1, env.provider.Calls(billing.OpRetrieveSubscription))
	})

	t.Run("provider outage is returned for retry", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		env.provider = billing.NewFakeProvider(billing.WithFailure(billing.OpRetrieveSubscription, errors.New("timeout")))
		env.r = billing.NewReconciler(testCatalog(t), env.store, billing.WithWebhookProviders(env.provider))
		env.subscribe(t)

		err := env.deliver(t, recurring("evt_1", nil))
		assert.ErrorIs(t, err, billing.ErrProviderUnavailable)
		assert.Nil(t, env.proUntil(t))
	})

	t.Run("canceled subscription without period end is acknowledged", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		env.provider = billing.NewFakeProvider(billing.WithPeriodEnd(time.Time{}))
		env.r = billing.NewReconciler(testCatalog(t), env.store, billing.WithWebhookProviders(env.provider))
		env.subscribe(t)

		require.NoError(t, env.deliver(t, recurring("evt_1", nil)))
		assert.Nil(t, env.proUntil(t))
		assert.Equal(t, 1, env.provider.Calls(billing.OpRetrieveSubscription))
	})

	t.Run("canceled subscription falls back to last payment plus plan period", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		env.provider = billing.NewFakeProvider(
			billing.WithPeriodEnd(time.Time{}),
			billing.WithLastPayment(time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)),
			billing.WithSubscriptionProduct("P-MONTHLY"),
		)
		env.r = billing.NewReconciler(testCatalog(t), env.store, billing.WithWebhookProviders(env.provider))
		env.subscribe(t)

		require.NoError(t, env.deliver(t, recurring("evt_1", nil)))
		until := env.proUntil(t)
		require.NotNil(t, until)
		assert.Equal(t, date(2024, time.April, 1), *until)
	})

	t.Run("last payment with unknown plan is acknowledged", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		env.provider = billing.NewFakeProvider(
			billing.WithPeriodEnd(time.Time{}),
			billing.WithLastPayment(time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)),
		)
		env.r = billing.NewReconciler(testCatalog(t), env.store, billing.WithWebhookProviders(env.provider))
		env.subscribe(t)

		require.NoError(t, env.deliver(t, recurring("evt_1", nil)))
		assert.Nil(t, env.proUntil(t))
	})

	t.Run("unpaid invoice is ignored", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		env.subscribe(t)

		e := recurring("evt_1", 1710545400)
		e.Paid = false
		require.NoError(t, env.deliver(t, e))
		assert.Nil(t, env.proUntil(t))
	})

	t.Run("resolves by customer id", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		env.subscribe(t)

		e := recurring("evt_1", 1710545400)
		e.SubscriptionID = "sub_unknown"
		require.NoError(t, env.deliver(t, e))
		assert.NotNil(t, env.proUntil(t))
	})

	t.Run("falls back to email", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)

		e := recurring("evt_1", 1710545400)
		e.Email = env.user.Email
		require.NoError(t, env.deliver(t, e))
		assert.Equal(t, date(2024, time.March, 15), *env.proUntil(t))
	})

	t.Run("unknown user is acknowledged", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)

		e := recurring("evt_1", 1710545400)
		e.Email = "stranger@example.com"
		require.NoError(t, env.deliver(t, e))
		assert.Nil(t, env.proUntil(t))
	})

	t.Run("invalid period end", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		env.subscribe(t)

		err := env.deliver(t, recurring("evt_1", "soon"))
		assert.ErrorIs(t, err, billing.ErrMalformedPayload)
		assert.Nil(t, env.proUntil(t))
	})

	t.Run("redelivery yields the same state", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		env.subscribe(t)

		require.NoError(t, env.deliver(t, recurring("evt_1", 1710545400)))
		first := *env.proUntil(t)
		require.NoError(t, env.deliver(t, recurring("evt_1", 1710545400)))
		assert.Equal(t, first, *env.proUntil(t))
	})
}

func TestReconciler_OneTimePayment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		amount int64
		want   *time.Time
	}{
		{name: "monthly", amount: 1995, want: ptr(date(2024, time.April, 1))},
		{name: "annual", amount: 19950, want: ptr(date(2025, time.March, 2))},
		{name: "unknown amount", amount: 5000, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newReconcilerEnv(t)

			require.NoError(t, env.deliver(t, oneTime("evt_1", tt.amount)))
			assert.Equal(t, tt.want, env.proUntil(t))
		})
	}

	t.Run("resolves by order id", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		require.NoError(t, env.store.Save(context.Background(), &billing.Entitlement{
			UserID:  env.user.ID,
			OrderID: "order_1",
		}))

		e := oneTime("evt_1", 1995)
		e.Email = ""
		e.OrderID = "order_1"
		require.NoError(t, env.deliver(t, e))
		assert.Equal(t, date(2024, time.April, 1), *env.proUntil(t))
	})

	t.Run("no email and no identifiers", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)

		e := oneTime("evt_1", 1995)
		e.Email = ""
		require.NoError(t, env.deliver(t, e))
		assert.Nil(t, env.proUntil(t))
	})
}

func TestReconciler_Rejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("invalid signature never mutates", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		env.subscribe(t)
		rec := &stageRecorder{}
		env.r = billing.NewReconciler(testCatalog(t), env.store,
			billing.WithWebhookProviders(env.provider),
			billing.WithReconcilerObserver(rec.observe),
		)

		payload := fakePayload(t, recurring("evt_1", 1710545400))
		forged := billing.NewFakeProvider(billing.WithWebhookSecret("whsec_forged"))

		err := env.r.Handle(ctx, billing.ProviderFake, payload, forged.SignWebhook(payload))
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
		assert.Nil(t, env.proUntil(t))
		assert.Equal(t, []billing.Stage{billing.StageWebhookRejected}, rec.all())
	})

	t.Run("malformed payload", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		payload := []byte(`not json`)

		err := env.r.Handle(ctx, billing.ProviderFake, payload, env.provider.SignWebhook(payload))
		assert.ErrorIs(t, err, billing.ErrMalformedPayload)
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)

		err := env.r.Handle(ctx, billing.ProviderPayPal, []byte(`{}`), nil)
		assert.ErrorIs(t, err, billing.ErrUnknownProvider)
	})

	t.Run("unknown event type is acknowledged", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		env.subscribe(t)

		require.NoError(t, env.deliver(t, billing.FakeEvent{ID: "evt_1", Type: "customer.updated", SubscriptionID: "sub_1"}))
		assert.Nil(t, env.proUntil(t))
	})
}

func TestReconciler_Ledger(t *testing.T) {
	t.Parallel()

	t.Run("duplicate delivery is skipped", func(t *testing.T) {
		t.Parallel()
		ledger := billing.NewMemoryLedger(time.Hour)
		env := newReconcilerEnv(t, billing.WithEventLedger(ledger))

		require.NoError(t, env.deliver(t, oneTime("evt_1", 1995)))
		require.NoError(t, env.store.UpdateProUntil(context.Background(), env.user.ID, date(2024, time.March, 10)))

		require.NoError(t, env.deliver(t, oneTime("evt_1", 1995)))
		assert.Equal(t, date(2024, time.March, 10), *env.proUntil(t))

		require.NoError(t, env.deliver(t, oneTime("evt_2", 1995)))
		assert.Equal(t, date(2024, time.April, 1), *env.proUntil(t))
	})

	t.Run("failed event is released", func(t *testing.T) {
		t.Parallel()
		user := testUser()
		store := &MockEntitlementStore{}
		store.On("FindBy", mock.Anything, billing.Lookup{Kind: billing.LookupSubscriptionID, Value: "sub_1"}).
			Return(&billing.Entitlement{UserID: user.ID, SubscriptionID: "sub_1"}, nil)
		store.On("UpdateProUntil", mock.Anything, user.ID, date(2024, time.March, 15)).
			Return(errors.New("db down"))

		ledger := &MockEventLedger{}
		ledger.On("Claim", mock.Anything, billing.ProviderFake, "evt_1").Return(true, nil)
		ledger.On("Release", mock.Anything, billing.ProviderFake, "evt_1").Return(nil)

		provider := billing.NewFakeProvider()
		r := billing.NewReconciler(testCatalog(t), store,
			billing.WithWebhookProviders(provider),
			billing.WithEventLedger(ledger),
		)

		payload := fakePayload(t, recurring("evt_1", 1710545400))
		err := r.Handle(context.Background(), billing.ProviderFake, payload, provider.SignWebhook(payload))
		require.Error(t, err)

		store.AssertExpectations(t)
		ledger.AssertExpectations(t)
	})

	t.Run("ledger outage does not block processing", func(t *testing.T) {
		t.Parallel()
		ledger := &MockEventLedger{}
		ledger.On("Claim", mock.Anything, billing.ProviderFake, "evt_1").Return(false, errors.New("redis down"))
		env := newReconcilerEnv(t, billing.WithEventLedger(ledger))

		require.NoError(t, env.deliver(t, oneTime("evt_1", 1995)))
		assert.Equal(t, date(2024, time.April, 1), *env.proUntil(t))
		ledger.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestReconciler_Monotonic(t *testing.T) {
	t.Parallel()

	later := date(2031, time.January, 1)

	t.Run("older period end is skipped", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t, billing.WithMonotonicEntitlement())
		env.subscribe(t)
		require.NoError(t, env.store.UpdateProUntil(context.Background(), env.user.ID, later))

		require.NoError(t, env.deliver(t, recurring("evt_1", 1710545400)))
		assert.Equal(t, later, *env.proUntil(t))
	})

	t.Run("last write wins by default", func(t *testing.T) {
		t.Parallel()
		env := newReconcilerEnv(t)
		env.subscribe(t)
		require.NoError(t, env.store.UpdateProUntil(context.Background(), env.user.ID, later))

		require.NoError(t, env.deliver(t, recurring("evt_1", 1710545400)))
		assert.Equal(t, date(2024, time.March, 15), *env.proUntil(t))
	})
}

func TestNewReconciler_Panics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { billing.NewReconciler(nil, billing.NewMemoryStore()) })
	assert.Panics(t, func() { billing.NewReconciler(testCatalog(t), nil) })
}

func ptr[T any](v T) *T { return &v }
