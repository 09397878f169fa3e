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

	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func serveHealth(t *testing.T, h *Handler) (int, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w.Code, resp
}

func TestHealthHandler_Healthy(t *testing.T) {
	h := NewHandler(version.Build{Version: "v1.0.0"})
	h.RegisterChecker("storage", NewCriticalChecker("storage", ok))

	code, resp := serveHealth(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Build.Version)
	assert.Len(t, resp.Checks, 1)
}

func TestHealthHandler_CriticalFailureIsUnhealthy(t *testing.T) {
	h := NewHandler(version.Current())
	h.RegisterChecker("storage", NewCriticalChecker("storage", failing("disk gone")))
	h.RegisterChecker("kafka", NewOptionalChecker("kafka", ok))

	code, resp := serveHealth(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "disk gone", resp.Checks["storage"].Message)
}

func TestHealthHandler_OptionalFailureIsDegraded(t *testing.T) {
	h := NewHandler(version.Current())
	h.RegisterChecker("storage", NewCriticalChecker("storage", ok))
	h.RegisterChecker("redis", NewOptionalChecker("redis", failing("connection refused")))

	code, resp := serveHealth(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)

	w := httptest.NewRecorder()
	h.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", w.Body.String())
}

func TestReadinessHandler_NotReady(t *testing.T) {
	h := NewHandler(version.Current())
	h.RegisterChecker("storage", NewCriticalChecker("storage", failing("down")))

	w := httptest.NewRecorder()
	h.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not ready", w.Body.String())
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestRun_ChecksHonourTimeout(t *testing.T) {
	h := NewHandler(version.Current())
	h.timeout = 20 * time.Millisecond
	h.RegisterChecker("slow", NewCriticalChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	status, checks := h.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, status)
	assert.Contains(t, checks["slow"].Message, "deadline exceeded")
}
