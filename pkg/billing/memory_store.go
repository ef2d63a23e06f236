package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory EntitlementStore.
// Values are copied on the way in and out.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Entitlement
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[uuid.UUID]*Entitlement),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, userID uuid.UUID) (*Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[userID]
	if !ok {
		now := s.now()
		e = &Entitlement{UserID: userID, CreatedAt: now, UpdatedAt: now}
		s.items[userID] = e
	}
	return e.Clone(), nil
}

func (s *MemoryStore) UpdateProUntil(ctx context.Context, userID uuid.UUID, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.items[userID]
	if !ok {
		e = &Entitlement{UserID: userID, CreatedAt: now}
		s.items[userID] = e
	}
	d := ToDate(until)
	e.ProUntil = &d
	e.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, e *Entitlement) error {
	if e == nil {
		return ErrEntitlementNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored, ok := s.items[e.UserID]
	if !ok {
		stored = &Entitlement{UserID: e.UserID, CreatedAt: now}
		s.items[e.UserID] = stored
	}
	stored.Provider = e.Provider
	stored.CustomerID = e.CustomerID
	stored.SubscriptionID = e.SubscriptionID
	stored.ProductID = e.ProductID
	stored.OrderID = e.OrderID
	stored.DiscountUntil = nil
	if e.DiscountUntil != nil {
		d := ToDate(*e.DiscountUntil)
		stored.DiscountUntil = &d
	}
	stored.UpdatedAt = now
	return nil
}

func (s *MemoryStore) FindBy(ctx context.Context, lookup Lookup) (*Entitlement, error) {
	if lookup.Value == "" {
		return nil, ErrEntitlementNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.items {
		var v string
		switch lookup.Kind {
		case LookupCustomerID:
			v = e.CustomerID
		case LookupSubscriptionID:
			v = e.SubscriptionID
		case LookupOrderID:
			v = e.OrderID
		}
		if v == lookup.Value {
			return e.Clone(), nil
		}
	}
	return nil, ErrEntitlementNotFound
}
