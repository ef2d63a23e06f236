package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is the authenticated account a checkout or webhook applies to.
type User struct {
	ID    uuid.UUID
	Email string
}

// UserDirectory resolves users owned by the authentication subsystem.
// Email lookups are a compatibility fallback for events carrying no stored identifier.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (User, error)
}

// UserDirectoryFunc adapts a function to UserDirectory.
type UserDirectoryFunc func(ctx context.Context, email string) (User, error)

func (f UserDirectoryFunc) FindByEmail(ctx context.Context, email string) (User, error) {
	return f(ctx, email)
}

// Entitlement records how long a user keeps PRO access together with the
// provider-side identifiers that join webhook events back to the user.
type Entitlement struct {
	UserID         uuid.UUID
	ProUntil       *time.Time // UTC date
	DiscountUntil  *time.Time // UTC date; a temporary discount also grants PRO
	Provider       ProviderName
	CustomerID     string
	SubscriptionID string
	ProductID      string
	OrderID        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsPro reports whether the entitlement grants PRO access at now.
// Both end dates are exclusive.
func (e *Entitlement) IsPro(now time.Time) bool {
	if e == nil {
		return false
	}
	if e.ProUntil != nil && now.Before(*e.ProUntil) {
		return true
	}
	return e.DiscountUntil != nil && now.Before(*e.DiscountUntil)
}

// HasSubscription reports whether a provider subscription id is stored.
func (e *Entitlement) HasSubscription() bool {
	return e != nil && e.SubscriptionID != ""
}

// Clone returns a deep copy.
func (e *Entitlement) Clone() *Entitlement {
	if e == nil {
		return nil
	}
	c := *e
	if e.ProUntil != nil {
		t := *e.ProUntil
		c.ProUntil = &t
	}
	if e.DiscountUntil != nil {
		t := *e.DiscountUntil
		c.DiscountUntil = &t
	}
	return &c
}

// LookupKind names the identifier used to find an entitlement.
type LookupKind string

const (
	LookupCustomerID     LookupKind = "customer_id"
	LookupSubscriptionID LookupKind = "subscription_id"
	LookupOrderID        LookupKind = "order_id"
)

// Lookup finds an entitlement by a stored provider identifier.
type Lookup struct {
	Kind  LookupKind
	Value string
}

// EntitlementStore persists one Entitlement per user.
// Concurrent writers follow last-write-wins.
type EntitlementStore interface {
	// GetOrCreate returns the user's entitlement, creating an empty one on first reference.
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*Entitlement, error)
	// UpdateProUntil sets the PRO end date, creating the entitlement if needed.
	UpdateProUntil(ctx context.Context, userID uuid.UUID, until time.Time) error
	// Save persists the provider identifiers and discount date of e.
	// ProUntil is written only through UpdateProUntil.
	Save(ctx context.Context, e *Entitlement) error
	// FindBy returns ErrEntitlementNotFound when nothing matches.
	FindBy(ctx context.Context, lookup Lookup) (*Entitlement, error)
}

// IsPro reports whether the user has PRO access at now.
func IsPro(ctx context.Context, store EntitlementStore, userID uuid.UUID, now time.Time) (bool, error) {
	e, err := store.GetOrCreate(ctx, userID)
	if err != nil {
		return false, err
	}
	return e.IsPro(now), nil
}
