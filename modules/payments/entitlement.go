package payments

import (
	"time"

	"github.com/dmitrymomot/prolessons/handler"
	"github.com/dmitrymomot/prolessons/pkg/billing"
)

// EntitlementResponse reports the current user's PRO access.
type EntitlementResponse struct {
	Pro            bool                 `json:"pro"`
	ProUntil       *time.Time           `json:"pro_until,omitempty"`
	DiscountUntil  *time.Time           `json:"discount_until,omitempty"`
	Provider       billing.ProviderName `json:"provider,omitempty"`
	SubscriptionID string               `json:"subscription_id,omitempty"`
}

func (s *Service) entitlement(ctx handler.Context, _ struct{}) handler.Response {
	user, _ := UserFromContext(ctx)

	e, err := s.store.GetOrCreate(ctx, user.ID)
	if err != nil {
		return s.failure(ctx, err)
	}
	return handler.JSON(EntitlementResponse{
		Pro:            e.IsPro(s.now()),
		ProUntil:       e.ProUntil,
		DiscountUntil:  e.DiscountUntil,
		Provider:       e.Provider,
		SubscriptionID: e.SubscriptionID,
	})
}
