package payments

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/prolessons/handler"
	"github.com/dmitrymomot/prolessons/pkg/billing"
	"github.com/dmitrymomot/prolessons/pkg/logger"
)

// Headers set by the authentication proxy.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
)

var userKey = handler.NewContextKey("payments_user")

// UserResolver identifies the user a checkout request acts for.
type UserResolver interface {
	Resolve(r *http.Request) (billing.User, error)
}

// UserResolverFunc adapts a function to UserResolver.
type UserResolverFunc func(r *http.Request) (billing.User, error)

func (f UserResolverFunc) Resolve(r *http.Request) (billing.User, error) { return f(r) }

// UserRecorder keeps the identities seen on requests so webhooks can fall
// back to an email lookup.
type UserRecorder interface {
	Remember(ctx context.Context, user billing.User) error
}

// HeaderUserResolver trusts the identity headers of the authentication proxy.
// An email already recorded for another user is logged and skipped; the
// request proceeds without the webhook email fallback for that user.
type HeaderUserResolver struct {
	recorder UserRecorder
	log      *slog.Logger
}

// NewHeaderUserResolver creates a resolver. recorder and log may be nil.
func NewHeaderUserResolver(recorder UserRecorder, log *slog.Logger) *HeaderUserResolver {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &HeaderUserResolver{recorder: recorder, log: log}
}

func (h *HeaderUserResolver) Resolve(r *http.Request) (billing.User, error) {
	id, err := uuid.Parse(strings.TrimSpace(r.Header.Get(HeaderUserID)))
	if err != nil || id == uuid.Nil {
		return billing.User{}, handler.ErrUnauthorized
	}
	user := billing.User{
		ID:    id,
		Email: strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
	}

	if h.recorder != nil && user.Email != "" {
		err := h.recorder.Remember(r.Context(), user)
		switch {
		case errors.Is(err, billing.ErrEmailTaken):
			h.log.WarnContext(r.Context(), "user email not recorded",
				logger.UserID(user.ID),
				logger.Error(err),
			)
		case err != nil:
			return billing.User{}, err
		}
	}
	return user, nil
}

// RequireUser resolves the current user and stores it in the request context.
func RequireUser(resolver UserResolver, errorHandler handler.ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolver.Resolve(r)
			if err != nil {
				errorHandler(handler.NewContext(w, r), err)
				return
			}
			ctx := context.WithValue(r.Context(), userKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the user stored by RequireUser.
func UserFromContext(ctx context.Context) (billing.User, bool) {
	return handler.ContextValueOK[billing.User](ctx, userKey)
}
