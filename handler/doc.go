// Package handler adapts typed request handlers to net/http.
//
// A HandlerFunc receives a Context and a request value decoded by the
// configured binders and returns a Response:
//
//	h := handler.HandlerFunc[PaymentRequest](func(ctx handler.Context, req PaymentRequest) handler.Response {
//		return handler.JSON(result)
//	})
//
//	r.Post("/card", handler.Wrap(h,
//		handler.WithBinders[PaymentRequest](binder.JSON(), binder.Form()),
//		handler.WithErrorHandler[PaymentRequest](handler.NewErrorHandler(log)),
//	))
//
// Errors returned by binders or by rendering are passed to the ErrorHandler.
// NewErrorHandler classifies HTTPError and ValidationError values, logs them
// with the request id and writes a JSON error document.
package handler
