package payments

import (
	"errors"
	"io"
	"net/http"

	"github.com/dmitrymomot/prolessons/handler"
	"github.com/dmitrymomot/prolessons/pkg/billing"
	"github.com/dmitrymomot/prolessons/pkg/binder"
	"github.com/dmitrymomot/prolessons/pkg/logger"
)

// webhook acknowledges a provider delivery. Rejected deliveries get 400;
// any other failure gets 500 so the provider retries.
func (s *Service) webhook(provider billing.ProviderName) handler.HandlerFunc[struct{}] {
	return func(ctx handler.Context, _ struct{}) handler.Response {
		r := ctx.Request()
		payload, err := io.ReadAll(http.MaxBytesReader(ctx.ResponseWriter(), r.Body, binder.MaxBodySize))
		if err != nil {
			s.log.WarnContext(ctx, "failed to read webhook body",
				logger.Provider(string(provider)),
				logger.Error(err),
			)
			return handler.EmptyWithStatus(http.StatusBadRequest)
		}

		err = s.reconciler.Handle(ctx, provider, payload, r.Header)
		switch {
		case err == nil:
			return handler.EmptyWithStatus(http.StatusOK)
		case errors.Is(err, billing.ErrInvalidSignature),
			errors.Is(err, billing.ErrMalformedPayload),
			errors.Is(err, billing.ErrUnknownProvider):
			return handler.EmptyWithStatus(http.StatusBadRequest)
		}
		return handler.EmptyWithStatus(http.StatusInternalServerError)
	}
}
