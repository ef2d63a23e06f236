package billing_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/prolessons/pkg/billing"
)

// MockEntitlementStore is a mock implementation of billing.EntitlementStore.
type MockEntitlementStore struct {
	mock.Mock
}

func (m *MockEntitlementStore) GetOrCreate(ctx context.Context, userID uuid.UUID) (*billing.Entitlement, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Entitlement), args.Error(1)
}

func (m *MockEntitlementStore) UpdateProUntil(ctx context.Context, userID uuid.UUID, until time.Time) error {
	args := m.Called(ctx, userID, until)
	return args.Error(0)
}

func (m *MockEntitlementStore) Save(ctx context.Context, e *billing.Entitlement) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockEntitlementStore) FindBy(ctx context.Context, lookup billing.Lookup) (*billing.Entitlement, error) {
	args := m.Called(ctx, lookup)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Entitlement), args.Error(1)
}

// MockEventLedger is a mock implementation of billing.EventLedger.
type MockEventLedger struct {
	mock.Mock
}

func (m *MockEventLedger) Claim(ctx context.Context, provider billing.ProviderName, eventID string) (bool, error) {
	args := m.Called(ctx, provider, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventLedger) Release(ctx context.Context, provider billing.ProviderName, eventID string) error {
	args := m.Called(ctx, provider, eventID)
	return args.Error(0)
}
