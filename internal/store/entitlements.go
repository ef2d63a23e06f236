package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/prolessons/pkg/billing"
	"github.com/dmitrymomot/prolessons/pkg/pg"
)

// EntitlementStore is a PostgreSQL billing.EntitlementStore.
// Writes are single-statement upserts; concurrent writers follow last-write-wins.
type EntitlementStore struct {
	db *pgxpool.Pool
}

var _ billing.EntitlementStore = (*EntitlementStore)(nil)

// NewEntitlementStore creates an EntitlementStore.
func NewEntitlementStore(db *pgxpool.Pool) *EntitlementStore {
	return &EntitlementStore{db: db}
}

const entitlementColumns = `user_id, pro_until, discount_until, provider, customer_id,
	subscription_id, product_id, order_id, created_at, updated_at`

func (s *EntitlementStore) GetOrCreate(ctx context.Context, userID uuid.UUID) (*billing.Entitlement, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO entitlements (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING `+entitlementColumns, userID)

	e, err := scanEntitlement(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create entitlement: %w", err)
	}
	return e, nil
}

func (s *EntitlementStore) UpdateProUntil(ctx context.Context, userID uuid.UUID, until time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO entitlements (user_id, pro_until) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET pro_until = EXCLUDED.pro_until, updated_at = now()`,
		userID, billing.ToDate(until))
	if err != nil {
		return fmt.Errorf("failed to update pro_until: %w", err)
	}
	return nil
}

func (s *EntitlementStore) Save(ctx context.Context, e *billing.Entitlement) error {
	if e == nil {
		return billing.ErrEntitlementNotFound
	}
	var discount *time.Time
	if e.DiscountUntil != nil {
		d := billing.ToDate(*e.DiscountUntil)
		discount = &d
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO entitlements (user_id, discount_until, provider, customer_id, subscription_id, product_id, order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			discount_until = EXCLUDED.discount_until,
			provider = EXCLUDED.provider,
			customer_id = EXCLUDED.customer_id,
			subscription_id = EXCLUDED.subscription_id,
			product_id = EXCLUDED.product_id,
			order_id = EXCLUDED.order_id,
			updated_at = now()`,
		e.UserID, discount, string(e.Provider), e.CustomerID, e.SubscriptionID, e.ProductID, e.OrderID)
	if err != nil {
		return fmt.Errorf("failed to save entitlement: %w", err)
	}
	return nil
}

func (s *EntitlementStore) FindBy(ctx context.Context, lookup billing.Lookup) (*billing.Entitlement, error) {
	if lookup.Value == "" {
		return nil, billing.ErrEntitlementNotFound
	}

	var column string
	switch lookup.Kind {
	case billing.LookupCustomerID:
		column = "customer_id"
	case billing.LookupSubscriptionID:
		column = "subscription_id"
	case billing.LookupOrderID:
		column = "order_id"
	default:
		return nil, fmt.Errorf("unknown lookup kind %q", lookup.Kind)
	}

	row := s.db.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE `+column+` = $1 ORDER BY updated_at DESC LIMIT 1`,
		lookup.Value)
	e, err := scanEntitlement(row)
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrEntitlementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find entitlement by %s: %w", column, err)
	}
	return e, nil
}

func scanEntitlement(row pgx.Row) (*billing.Entitlement, error) {
	var (
		e        billing.Entitlement
		provider string
	)
	err := row.Scan(
		&e.UserID, &e.ProUntil, &e.DiscountUntil, &provider, &e.CustomerID,
		&e.SubscriptionID, &e.ProductID, &e.OrderID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Provider = billing.ProviderName(provider)
	if e.ProUntil != nil {
		d := billing.ToDate(*e.ProUntil)
		e.ProUntil = &d
	}
	if e.DiscountUntil != nil {
		d := billing.ToDate(*e.DiscountUntil)
		e.DiscountUntil = &d
	}
	return &e, nil
}
