package payments

import (
	"strings"

	"github.com/dmitrymomot/prolessons/handler"
	"github.com/dmitrymomot/prolessons/pkg/billing"
)

// CheckoutRequest opens the checkout form.
type CheckoutRequest struct {
	PaymentMethod string `json:"payment_method" form:"payment_method"`
	Automatic     bool   `json:"automatic" form:"automatic"`
	Plan          string `json:"plan" form:"plan"`
}

func (s *Service) openCheckout(ctx handler.Context, req CheckoutRequest) handler.Response {
	user, _ := UserFromContext(ctx)

	form, err := s.checkout.Form(ctx, user, strings.TrimSpace(req.PaymentMethod), strings.TrimSpace(req.Plan), req.Automatic)
	if err != nil {
		return s.failure(ctx, err)
	}
	return handler.JSON(form)
}

// CardPaymentRequest pays for a plan with a card tokenized by the browser.
type CardPaymentRequest struct {
	PaymentMethodID string `json:"payment_method_id" form:"payment_method_id"`
	StripePlanID    string `json:"stripe_plan_id" form:"stripe_plan_id"`
	Automatic       bool   `json:"automatic" form:"automatic"`
	LessonPlanID    string `json:"lesson_plan_id" form:"lesson_plan_id"`
}

// ActionRequired is returned when the bank asks for 3-D Secure.
type ActionRequired struct {
	PaymentIntentSecret string `json:"payment_intent_secret"`
	PublishableKey      string `json:"publishable_key"`
}

func (s *Service) cardPayment(ctx handler.Context, req CardPaymentRequest) handler.Response {
	user, _ := UserFromContext(ctx)
	planID := s.planKey(req.LessonPlanID, req.StripePlanID)
	paymentMethod := strings.TrimSpace(req.PaymentMethodID)

	var (
		attempt *billing.Attempt
		err     error
	)
	if req.Automatic {
		attempt, err = s.checkout.RecurringPayment(ctx, user, planID, paymentMethod)
	} else {
		attempt, err = s.checkout.OneTimePayment(ctx, user, planID, paymentMethod)
	}
	if err != nil {
		return s.failure(ctx, err)
	}

	if attempt.Status == billing.StatusRequiresAction {
		return handler.JSON(ActionRequired{
			PaymentIntentSecret: attempt.ClientSecret(),
			PublishableKey:      s.publishableKey,
		})
	}
	return handler.JSON(attempt.Status.Context())
}

// planKey prefers the client plan key and falls back to the provider plan id.
func (s *Service) planKey(lessonPlanID, providerPlanID string) string {
	if key := strings.TrimSpace(lessonPlanID); key != "" || s.catalog == nil {
		return key
	}
	if plan, ok := s.catalog.PlanByProviderID(strings.TrimSpace(providerPlanID)); ok {
		return string(plan.ID)
	}
	return ""
}

// PayPalPaymentRequest starts a PayPal order or subscription.
type PayPalPaymentRequest struct {
	Plan      string `json:"plan" form:"plan"`
	Automatic bool   `json:"automatic" form:"automatic"`
}

// PayPalApproval tells the browser where the buyer approves the payment.
type PayPalApproval struct {
	OrderID        string `json:"order_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Status         string `json:"status"`
	ApproveURL     string `json:"approve_url,omitempty"`
}

func (s *Service) paypalPayment(ctx handler.Context, req PayPalPaymentRequest) handler.Response {
	user, _ := UserFromContext(ctx)
	planID := strings.TrimSpace(req.Plan)

	if req.Automatic {
		attempt, err := s.checkout.PayPalSubscription(ctx, user, planID)
		if err != nil {
			return s.failure(ctx, err)
		}
		return handler.JSON(PayPalApproval{
			SubscriptionID: attempt.Subscription.ID,
			Status:         attempt.Subscription.Status,
			ApproveURL:     attempt.Subscription.ApproveURL,
		})
	}

	attempt, err := s.checkout.PayPalOrder(ctx, user, planID)
	if err != nil {
		return s.failure(ctx, err)
	}
	return handler.JSON(PayPalApproval{
		OrderID:    attempt.Order.ID,
		Status:     attempt.Order.Status,
		ApproveURL: attempt.Order.ApproveURL,
	})
}

func (s *Service) cancelSubscription(ctx handler.Context, _ struct{}) handler.Response {
	user, _ := UserFromContext(ctx)

	attempt, err := s.checkout.CancelSubscription(ctx, user)
	if err != nil {
		return s.failure(ctx, err)
	}
	return handler.JSON(attempt.Status.Context())
}
