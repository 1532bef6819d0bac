package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/accessd/pkg/contextkeys"
	"github.com/platinummonkey/accessd/pkg/observability"
)

func TestRequestID_GeneratesUUID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.RequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
}

func TestRequestID_KeepsIncoming(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.RequestID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "abc", seen)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	handler := Chain(RequestID, RequestLogger(logger))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/rbac/roles", nil))

	out := buf.String()
	assert.Contains(t, out, `"msg":"http request"`)
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"request_id"`)
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.ErrorLevel, &buf)

	handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, buf.String(), "boom")
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestTrustedHeaderPrincipal(t *testing.T) {
	var userID string
	var ok bool
	handler := TrustedHeaderPrincipal("X-User-ID")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok = contextkeys.Principal(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-User-ID", " u1 ")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, ok)
	assert.Equal(t, "u1", userID)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.False(t, ok)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	Chain(mw("a"), mw("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, []string{"a", "b", "handler"}, order)
}
