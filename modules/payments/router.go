package payments

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mountable is a service that serves its own routes.
type Mountable interface {
	Handle() http.Handler
}

// RouterOptions configures which services to mount in the payments module.
type RouterOptions struct {
	Service Mountable
	// Middlewares run before every mounted route.
	Middlewares []func(http.Handler) http.Handler
}

// Router creates the payments module router.
func Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(opts.Middlewares...)

	if opts.Service != nil {
		r.Mount("/", opts.Service.Handle())
	}
	return r
}
