package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/prolessons/handler"
	"github.com/dmitrymomot/prolessons/pkg/binder"
)

func render(t *testing.T, resp handler.Response) (*httptest.ResponseRecorder, handler.JSONResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	require.NoError(t, resp.Render(w, httptest.NewRequest(http.MethodGet, "/", nil)))

	var body handler.JSONResponse
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestJSON(t *testing.T) {
	t.Parallel()

	t.Run("data", func(t *testing.T) {
		t.Parallel()
		w, body := render(t, handler.JSON(map[string]string{"id": "123"}))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
		assert.Equal(t, map[string]any{"id": "123"}, body.Data)
	})

	t.Run("status and meta", func(t *testing.T) {
		t.Parallel()
		w, body := render(t, handler.JSON("ok",
			handler.WithJSONStatus(http.StatusAccepted),
			handler.WithJSONMeta(map[string]any{"version": "1"}),
		))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "ok", body.Data)
		assert.Equal(t, map[string]any{"version": "1"}, body.Meta)
	})

	t.Run("error value", func(t *testing.T) {
		t.Parallel()
		w, body := render(t, handler.JSON(handler.ErrNotFound))
		assert.Equal(t, http.StatusNotFound, w.Code)
		require.NotNil(t, body.Error)
		assert.Equal(t, "not_found", body.Error.Code)
	})
}

func TestJSONError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKey  string
		wantMsg  string
	}{
		{
			name:     "http error",
			err:      handler.ErrConflict,
			wantCode: http.StatusConflict,
			wantKey:  "conflict",
			wantMsg:  "Conflict",
		},
		{
			name:     "http error with message",
			err:      handler.ErrPaymentRequired.WithMessage("Your card was declined."),
			wantCode: http.StatusPaymentRequired,
			wantKey:  "payment_required",
			wantMsg:  "Your card was declined.",
		},
		{
			name:     "wrapped http error",
			err:      errors.Join(errors.New("context"), handler.ErrBadGateway),
			wantCode: http.StatusBadGateway,
			wantKey:  "bad_gateway",
			wantMsg:  "Bad Gateway",
		},
		{
			name:     "plain error is not exposed",
			err:      errors.New("pq: password authentication failed"),
			wantCode: http.StatusInternalServerError,
			wantKey:  "internal_server_error",
			wantMsg:  "Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, body := render(t, handler.JSONError(tt.err))
			assert.Equal(t, tt.wantCode, w.Code)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.wantKey, body.Error.Code)
			assert.Equal(t, tt.wantMsg, body.Error.Message)
		})
	}

	t.Run("validation error", func(t *testing.T) {
		t.Parallel()
		v := handler.NewValidationError()
		v.Add("plan_id", "is required")

		w, body := render(t, handler.JSONError(v, handler.WithJSONData(map[string]string{"tag": "danger"})))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		require.NotNil(t, body.Error)
		assert.Equal(t, "validation_error", body.Error.Code)
		assert.Equal(t, map[string][]string{"plan_id": {"is required"}}, body.Error.Details)
		assert.Equal(t, map[string]any{"tag": "danger"}, body.Data)
	})
}

func TestEmpty(t *testing.T) {
	t.Parallel()

	w, _ := render(t, handler.Empty())
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = render(t, handler.EmptyWithStatus(http.StatusOK))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, w.Body.Len())
}

func TestNewErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKey  string
		wantLog  string
	}{
		{"bad json", binder.ErrFailedToParseJSON, http.StatusBadRequest, "bad_request", "level=WARN"},
		{"media type", binder.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType, "unsupported_media_type", "level=WARN"},
		{"too large", binder.ErrRequestTooLarge, http.StatusRequestEntityTooLarge, "request_entity_too_large", "level=WARN"},
		{"http error", handler.ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "level=WARN"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_server_error", "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			h := handler.NewErrorHandler(slog.New(slog.NewTextHandler(&buf, nil)))

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/checkout", nil)
			h(handler.NewContext(w, r), tt.err)

			assert.Equal(t, tt.wantCode, w.Code)
			var body handler.JSONResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.wantKey, body.Error.Code)
			assert.Contains(t, buf.String(), tt.wantLog)
			assert.Contains(t, buf.String(), "path=/checkout")
		})
	}
}
