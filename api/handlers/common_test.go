package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/internal/ctxkeys"
	"github.com/BaSui01/inkflow/types"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"message":"hello"}`, w.Body.String())
}

func TestWriteSuccess_CarriesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-1"))

	WriteSuccess(w, r, map[string]string{"key": "value"})

	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   types.ErrorCode
		message        string
	}{
		{
			name:           "validation",
			err:            types.NewValidationError("title is required"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   types.ErrValidation,
			message:        "title is required",
		},
		{
			name:           "not found",
			err:            types.NewNotFoundError("document", "doc-1"),
			expectedStatus: http.StatusNotFound,
			expectedCode:   types.ErrNotFound,
		},
		{
			name:           "transient",
			err:            types.NewTransientError("database unavailable", errors.New("dial tcp")),
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   types.ErrTransientInfra,
		},
		{
			name:           "rate limited is a server error",
			err:            types.NewError(types.ErrRateLimited, "search rate limiter").WithRetryable(true),
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   types.ErrRateLimited,
		},
		{
			name:           "upstream 429 is not passed through",
			err:            types.NewError(types.ErrRateLimited, "openai: slow down").WithHTTPStatus(http.StatusTooManyRequests),
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   types.ErrRateLimited,
		},
		{
			name:           "upstream 404 is not passed through",
			err:            types.NewError(types.ErrUpstreamError, "openai: model not found").WithHTTPStatus(http.StatusNotFound),
			expectedStatus: http.StatusBadGateway,
			expectedCode:   types.ErrUpstreamError,
		},
		{
			name:           "pipeline",
			err:            types.NewPipelineError("writing", "empty output"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   types.ErrPipelineFailure,
		},
		{
			name:           "explicit status wins",
			err:            types.NewValidationError("conflict").WithHTTPStatus(http.StatusConflict),
			expectedStatus: http.StatusConflict,
			expectedCode:   types.ErrValidation,
		},
		{
			name:           "unclassified error hides details",
			err:            errors.New("pq: password authentication failed"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   types.ErrInternalError,
			message:        "internal error",
		},
		{
			name:           "canceled",
			err:            context.Canceled,
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   types.ErrCanceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			WriteError(w, r, tt.err, zap.NewNop())

			assert.Equal(t, tt.expectedStatus, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.expectedCode), resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Error.Message)
			}
		})
	}
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name        string
		body        string
		contentType string
		wantErr     bool
	}{
		{name: "valid JSON", body: `{"name":"test","value":123}`, contentType: "application/json"},
		{name: "charset suffix", body: `{"name":"test"}`, contentType: "application/json; charset=UTF-8"},
		{name: "no content type", body: `{"name":"test"}`},
		{name: "invalid JSON", body: `{"name":"test",}`, wantErr: true},
		{name: "unknown field", body: `{"name":"test","unknown":"field"}`, wantErr: true},
		{name: "wrong content type", body: `{"name":"test"}`, contentType: "text/plain", wantErr: true},
		{name: "empty body", body: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.body))
			if tt.body == "" {
				r.Body = http.NoBody
			}
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}

			var got payload
			err := DecodeJSONBody(w, r, &got)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "test", got.Name)
		})
	}
}

func TestDecodeJSONBody_TooLarge(t *testing.T) {
	body := `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(body))

	var got map[string]string
	err := DecodeJSONBody(w, r, &got)
	require.Error(t, err)

	rec := httptest.NewRecorder()
	WriteError(rec, r, err, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)
	assert.Same(t, rw, NewResponseWriter(rw))

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)
	n, err := rw.Write([]byte("hi"))
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, http.StatusTeapot, rw.StatusCode)
	assert.Equal(t, int64(2), rw.BytesWritten)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Same(t, rec, rw.Unwrap())

	_, _, err = rw.Hijack()
	assert.Error(t, err)
}
