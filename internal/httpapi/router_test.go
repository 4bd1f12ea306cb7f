package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dynamicworkspace/presence-sensor/internal/state"
	"github.com/dynamicworkspace/presence-sensor/internal/transport"
)

func TestHealthzAlwaysOK(t *testing.T) {
	r := NewRouter(RouterConfig{Hub: transport.NewHub(state.New(), nil)})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReadyzReportsUnhealthyBackend(t *testing.T) {
	r := NewRouter(RouterConfig{
		Hub: transport.NewHub(state.New(), nil),
		Checks: map[string]Checker{
			"postgres": func(context.Context) error { return nil },
			"nats":     func(context.Context) error { return errors.New("connection refused") },
		},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadyzWithNoChecksIsReady(t *testing.T) {
	r := NewRouter(RouterConfig{Hub: transport.NewHub(state.New(), nil)})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
