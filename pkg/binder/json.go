package binder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// MaxBodySize caps decoded request bodies.
const MaxBodySize = 1 << 20

// JSON returns a binder for application/json bodies.
func JSON() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		mediaType, err := mediaTypeOf(r)
		if err != nil {
			return err
		}
		if mediaType != "application/json" {
			return ErrBinderNotApplicable
		}

		dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxBodySize))
		dec.DisallowUnknownFields()

		if err := dec.Decode(v); err != nil {
			var maxErr *http.MaxBytesError
			switch {
			case errors.As(err, &maxErr):
				return fmt.Errorf("%w: %v", ErrRequestTooLarge, err)
			case errors.Is(err, io.EOF):
				return fmt.Errorf("%w: empty body", ErrFailedToParseJSON)
			}
			return fmt.Errorf("%w: %v", ErrFailedToParseJSON, err)
		}
		if dec.More() {
			return fmt.Errorf("%w: unexpected data after JSON object", ErrFailedToParseJSON)
		}
		return nil
	}
}

// mediaTypeOf returns the request media type without parameters.
func mediaTypeOf(r *http.Request) (string, error) {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return "", ErrBinderNotApplicable
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMediaType, ct)
	}
	return mediaType, nil
}
