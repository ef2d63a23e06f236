package binder

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// Form returns a binder for urlencoded and multipart form bodies.
//
// Fields are matched by the `form:"name"` tag; `form:"-"` skips a field.
// Supported kinds: string, bool, signed and unsigned integers, floats,
// pointers to those and slices of strings.
func Form() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		mediaType, err := mediaTypeOf(r)
		if err != nil {
			return err
		}

		r.Body = http.MaxBytesReader(nil, r.Body, MaxBodySize)
		switch mediaType {
		case "application/x-www-form-urlencoded":
			err = r.ParseForm()
		case "multipart/form-data":
			err = r.ParseMultipartForm(MaxBodySize)
		default:
			return ErrBinderNotApplicable
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return fmt.Errorf("%w: %v", ErrRequestTooLarge, err)
			}
			return fmt.Errorf("%w: %v", ErrFailedToParseForm, err)
		}

		values := r.PostForm
		if r.MultipartForm != nil {
			values = url.Values(r.MultipartForm.Value)
		}
		return bindValues(values, v)
	}
}

func bindValues(values url.Values, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: target must be a non-nil pointer to struct", ErrFailedToParseForm)
	}
	rv = rv.Elem()
	rt := rv.Type()

	for i := range rt.NumField() {
		sf := rt.Field(i)
		tag, _, _ := strings.Cut(sf.Tag.Get("form"), ",")
		if tag == "" || tag == "-" || !sf.IsExported() {
			continue
		}
		vals, ok := values[tag]
		if !ok || len(vals) == 0 {
			continue
		}
		if err := setField(rv.Field(i), vals); err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrFailedToParseForm, tag, err)
		}
	}
	return nil
}

func setField(f reflect.Value, vals []string) error {
	if f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.String {
		f.Set(reflect.ValueOf(append([]string(nil), vals...)).Convert(f.Type()))
		return nil
	}
	if f.Kind() == reflect.Pointer {
		p := reflect.New(f.Type().Elem())
		if err := setScalar(p.Elem(), vals[0]); err != nil {
			return err
		}
		f.Set(p)
		return nil
	}
	return setScalar(f, vals[0])
}

func setScalar(f reflect.Value, s string) error {
	s = strings.TrimSpace(s)
	switch f.Kind() {
	case reflect.String:
		f.SetString(s)
	case reflect.Bool:
		if s == "" || s == "on" {
			f.SetBool(s == "on")
			return nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		f.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, f.Type().Bits())
		if err != nil {
			return err
		}
		f.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, f.Type().Bits())
		if err != nil {
			return err
		}
		f.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(s, f.Type().Bits())
		if err != nil {
			return err
		}
		f.SetFloat(n)
	default:
		return fmt.Errorf("unsupported kind %s", f.Kind())
	}
	return nil
}
