// Package payments exposes checkout and provider webhooks over HTTP.
//
// Checkout routes act on behalf of the current user, resolved by a
// UserResolver (by default from headers set by the authentication proxy).
// Webhook routes are unauthenticated; deliveries are verified by the
// provider signature instead.
//
//	svc := payments.NewService(checkout, reconciler, store,
//		payments.WithUserResolver(payments.NewHeaderUserResolver(users, log)),
//		payments.WithErrorHandler(handler.NewErrorHandler(log)),
//	)
//
//	r := chi.NewRouter()
//	r.Mount("/billing", payments.Router(payments.RouterOptions{Service: svc}))
package payments
