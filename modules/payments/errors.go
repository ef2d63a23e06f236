package payments

import (
	"errors"
	"log/slog"

	"github.com/dmitrymomot/prolessons/handler"
	"github.com/dmitrymomot/prolessons/pkg/billing"
	"github.com/dmitrymomot/prolessons/pkg/logger"
)

// User-facing failure messages.
const (
	msgDeclined     = "Your payment was declined. Please check your card details or try another card."
	msgRejected     = "The payment provider could not process the request."
	msgUnavailable  = "The payment provider is temporarily unavailable. Please try again in a few minutes."
	msgExists       = "You already have a subscription with another payment provider."
	msgNoSubscribed = "You have no active subscription."
)

// failure renders a checkout error. Payment failures carry the failure
// status context as data; unexpected errors become an opaque 500.
func (s *Service) failure(ctx handler.Context, err error) handler.Response {
	var (
		httpErr handler.HTTPError
		msg     string
	)
	switch {
	case errors.Is(err, billing.ErrInvalidPlan):
		return handler.JSONError(validation("plan", "is not a valid plan"))
	case errors.Is(err, billing.ErrMissingPaymentMethod):
		return handler.JSONError(validation("payment_method", "is required"))
	case errors.Is(err, billing.ErrUnknownPaymentMethod):
		return handler.JSONError(validation("payment_method", "is not supported"))
	case errors.Is(err, billing.ErrSubscriptionExists):
		httpErr, msg = handler.ErrConflict, msgExists
	case errors.Is(err, billing.ErrNoActiveSubscription):
		httpErr, msg = handler.ErrNotFound, msgNoSubscribed
	case errors.Is(err, billing.ErrPaymentDeclined):
		httpErr, msg = handler.ErrPaymentRequired, msgDeclined
	case errors.Is(err, billing.ErrProviderRejected):
		httpErr, msg = handler.ErrPaymentRequired, msgRejected
	case errors.Is(err, billing.ErrProviderUnavailable):
		httpErr, msg = handler.ErrServiceUnavailable, msgUnavailable
	default:
		s.log.ErrorContext(ctx, "checkout request failed", logger.Error(err))
		return handler.JSONError(err)
	}

	s.log.LogAttrs(ctx, slog.LevelWarn, "payment failed",
		slog.Int("status_code", httpErr.Code),
		logger.Error(err),
	)
	return handler.JSONError(httpErr.WithMessage(msg).Wrap(err),
		handler.WithJSONData(billing.FailureContext(msg)),
	)
}

func validation(field, msg string) handler.ValidationError {
	v := handler.NewValidationError()
	v.Add(field, msg)
	return v
}
