package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/prolessons/pkg/binder"
	"github.com/dmitrymomot/prolessons/pkg/logger"
)

// ErrorInfo is the classification of a request error.
type ErrorInfo struct {
	StatusCode int
	LogLevel   slog.Level
}

func classifyError(err error) ErrorInfo {
	info := ErrorInfo{StatusCode: http.StatusInternalServerError}

	var httpErr HTTPError
	var valErr ValidationError
	switch {
	case errors.As(err, &valErr):
		info.StatusCode = http.StatusUnprocessableEntity
	case errors.As(err, &httpErr):
		info.StatusCode = httpErr.Code
	case errors.Is(err, binder.ErrUnsupportedMediaType), errors.Is(err, binder.ErrMissingContentType):
		info.StatusCode = http.StatusUnsupportedMediaType
	case errors.Is(err, binder.ErrRequestTooLarge):
		info.StatusCode = http.StatusRequestEntityTooLarge
	case errors.Is(err, binder.ErrFailedToParseJSON), errors.Is(err, binder.ErrFailedToParseForm):
		info.StatusCode = http.StatusBadRequest
	}

	info.LogLevel = slog.LevelError
	if info.StatusCode < http.StatusInternalServerError {
		info.LogLevel = slog.LevelWarn
	}
	return info
}

// asHTTPError maps binder errors onto their HTTPError so the JSON body
// carries a meaningful code.
func asHTTPError(err error, info ErrorInfo) error {
	var httpErr HTTPError
	var valErr ValidationError
	if errors.As(err, &httpErr) || errors.As(err, &valErr) {
		return err
	}
	switch info.StatusCode {
	case http.StatusUnsupportedMediaType:
		return ErrUnsupportedMediaType.Wrap(err)
	case http.StatusRequestEntityTooLarge:
		return ErrRequestTooLarge.Wrap(err)
	case http.StatusBadRequest:
		return ErrBadRequest.Wrap(err)
	}
	return err
}

// NewErrorHandler logs the error with the request id and writes a JSON error document.
func NewErrorHandler(log *slog.Logger) ErrorHandler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("error_handler"))

	return func(ctx Context, err error) {
		r := ctx.Request()
		info := classifyError(err)

		log.LogAttrs(r.Context(), info.LogLevel, "request error",
			logger.RequestID(middleware.GetReqID(r.Context())),
			logger.Error(err),
			slog.Int("status_code", info.StatusCode),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		if renderErr := JSONError(asHTTPError(err, info)).Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.ErrorContext(r.Context(), "failed to render error response", logger.Error(renderErr))
		}
	}
}
