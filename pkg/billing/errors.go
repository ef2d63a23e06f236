package billing

import "errors"

var (
	ErrInvalidPlan          = errors.New("invalid plan")
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
	ErrUnknownProvider      = errors.New("unknown billing provider")

	ErrProviderUnavailable  = errors.New("billing provider unavailable")
	ErrProviderRejected     = errors.New("billing provider rejected the request")
	ErrUnsupportedOperation = errors.New("operation not supported by billing provider")
	ErrPaymentDeclined      = errors.New("payment declined")
	ErrNoActiveSubscription = errors.New("no active subscription")

	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailTaken       = errors.New("email belongs to another user")

	ErrEntitlementNotFound = errors.New("entitlement not found")
	ErrInvalidTimestamp    = errors.New("invalid timestamp")

	// Configuration errors
	ErrMissingSecretKey      = errors.New("billing provider secret key is required")
	ErrMissingWebhookSecret  = errors.New("billing provider webhook secret is required")
	ErrMissingPlanID         = errors.New("provider plan ID is required")
	ErrInvalidProviderMode   = errors.New("invalid billing provider mode")
	ErrMissingPublishableKey = errors.New("billing provider publishable key is required")
)

var (
	ErrMissingPaymentMethod = errors.New("payment method is required")
	ErrSubscriptionExists   = errors.New("user already has a subscription with another provider")
)
