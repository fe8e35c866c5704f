package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, handler *Handler) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var response Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w, response
}

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("store", NewSimpleChecker("store", healthy))

	w, response := serve(t, handler)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, StatusHealthy, response.Status)
	assert.Equal(t, "v1.0.0", response.Version)
	assert.Len(t, response.Checks, 1)
}

func TestHealthHandler_StoreDownIsUnhealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("store", NewSimpleChecker("store", failing("pool timeout")))
	handler.RegisterChecker("cache", NewDegradableChecker("cache", healthy))

	w, response := serve(t, handler)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, StatusUnhealthy, response.Status)
	assert.Equal(t, "pool timeout", response.Checks["store"].Message)
}

func TestHealthHandler_CacheDownIsDegraded(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("store", NewSimpleChecker("store", healthy))
	handler.RegisterChecker("cache", NewDegradableChecker("cache", failing("cache degraded")))

	w, response := serve(t, handler)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusDegraded, response.Status)
	assert.Equal(t, StatusDegraded, response.Checks["cache"].Status)
}

func TestLivenessHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()

	LivenessHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestReadinessHandler(t *testing.T) {
	testCases := []struct {
		name     string
		store    func(context.Context) error
		cache    func(context.Context) error
		wantCode int
		wantBody string
	}{
		{"all healthy", healthy, healthy, http.StatusOK, "ready"},
		{"cache degraded", healthy, failing("down"), http.StatusOK, "ready"},
		{"store down", failing("down"), healthy, http.StatusServiceUnavailable, "not ready"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewHandler("v1.0.0")
			handler.RegisterChecker("store", NewSimpleChecker("store", tc.store))
			handler.RegisterChecker("cache", NewDegradableChecker("cache", tc.cache))

			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			w := httptest.NewRecorder()
			handler.ReadinessHandler(w, req)

			assert.Equal(t, tc.wantCode, w.Code)
			assert.Equal(t, tc.wantBody, w.Body.String())
		})
	}
}

func TestFuncChecker_PassesDeadline(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.checkTimeout = 20 * time.Millisecond
	handler.RegisterChecker("store", NewSimpleChecker("store", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	w, response := serve(t, handler)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, context.DeadlineExceeded.Error(), response.Checks["store"].Message)
}

func TestFuncChecker_Duration(t *testing.T) {
	checker := NewSimpleChecker("store", func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	check := checker.Check(context.Background())

	assert.Equal(t, StatusHealthy, check.Status)
	assert.GreaterOrEqual(t, check.DurationMs, int64(10))
}
