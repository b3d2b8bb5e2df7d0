package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_AttachesLoggerAndStartTime(t *testing.T) {
	backend := &captureBackend{}
	middleware := NewMiddleware(backend)

	var sawLogger Logger
	var sawStart time.Time
	var startOK bool

	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = FromContext(r.Context())
		sawStart, startOK = RequestStart(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	before := time.Now().UTC()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records", nil))

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Same(t, backend, sawLogger)
	require.True(t, startOK)
	assert.False(t, sawStart.Before(before))

	// Handlers downstream can log through the context without holding a
	// reference to the backend.
	require.NoError(t, sawLogger.Log(context.Background(), &Event{EventType: EventTypeAccessGranted}))
	assert.Len(t, backend.Events(), 1)
}

func TestMiddleware_NilLoggerDefaultsToNop(t *testing.T) {
	middleware := NewMiddleware(nil)

	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := FromContext(r.Context())
		assert.IsType(t, NopLogger{}, logger)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRequestStart_Absent(t *testing.T) {
	_, ok := RequestStart(context.Background())
	assert.False(t, ok)
}

func TestRequestDuration(t *testing.T) {
	assert.Zero(t, RequestDuration(context.Background()))

	backend := &captureBackend{}
	middleware := NewMiddleware(backend)

	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.GreaterOrEqual(t, RequestDuration(r.Context()), time.Duration(0))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
