// Package binder decodes HTTP request bodies into structs.
//
// JSON decodes application/json bodies strictly: unknown fields and trailing
// data are rejected and the body is capped at MaxBodySize. Form decodes
// application/x-www-form-urlencoded and multipart/form-data bodies into
// fields tagged with `form:"name"`.
//
// Each binder returns ErrBinderNotApplicable when the request has another
// content type, so several binders can be chained for one endpoint.
package binder
