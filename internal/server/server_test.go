package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/sharedcounter/internal/config"
	apierrors "github.com/devrev/sharedcounter/internal/errors"
	"github.com/devrev/sharedcounter/internal/handler"
	"github.com/devrev/sharedcounter/internal/health"
	"github.com/devrev/sharedcounter/internal/metrics"
	"github.com/devrev/sharedcounter/internal/service"
	"github.com/devrev/sharedcounter/internal/store"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *prometheus.Registry) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "memory"
	if mutate != nil {
		mutate(cfg)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	counterStore := store.NewMemoryCounterStore()
	counters := service.NewCounterService(counterStore, service.Config{Location: time.UTC}, quartz.NewMock(t), m, zap.NewNop())
	handlers := handler.NewHandlers(counters, nil, apierrors.NewHandler(zap.NewNop()), zap.NewNop(), time.Second)
	hc := health.NewHealthChecker(map[string]health.Pinger{"counter_store": counterStore}, zap.NewNop())

	return NewServer(cfg, handlers, hc, m, zap.NewNop()), reg
}

func TestServer_Routes(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health/live", http.StatusOK},
		{http.MethodGet, "/health/ready", http.StatusOK},
		{http.MethodPut, "/v1/counters/a", http.StatusCreated},
		{http.MethodGet, "/v1/counters/a", http.StatusOK},
		{http.MethodGet, "/v1/nothing", http.StatusNotFound},
		{http.MethodDelete, "/v1/counters/a", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestServer_FallbackHandlersRunMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	notFound := httptest.NewRecorder()
	srv.Handler().ServeHTTP(notFound, httptest.NewRequest(http.MethodGet, "/v1/nothing", nil))
	notAllowed := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/v1/counters/a/increments", nil)
	req.Header.Set("X-Request-ID", "req-405")
	srv.Handler().ServeHTTP(notAllowed, req)

	assert.Equal(t, http.StatusNotFound, notFound.Code)
	assert.NotEmpty(t, notFound.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusMethodNotAllowed, notAllowed.Code)
	assert.Equal(t, "req-405", notAllowed.Header().Get("X-Request-ID"))
	assert.Contains(t, notAllowed.Body.String(), `"request_id":"req-405"`)

	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodDelete, "unmatched", "405")))
}

func TestServer_RateLimiter(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) {
		c.RateLimiter.Enabled = true
		c.RateLimiter.RequestsPerSecond = 0.001
		c.RateLimiter.BurstSize = 1
	})

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	srv, reg := newTestServer(t, nil)
	ms := NewMetricsServer(&MetricsServerConfig{Path: "/metrics"}, reg, zap.NewNop())

	apiListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	metricsListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	apiErr := make(chan error, 1)
	metricsErr := make(chan error, 1)
	go func() { apiErr <- srv.Serve(apiListener) }()
	go func() { metricsErr <- ms.Serve(metricsListener) }()

	resp, err := http.Post("http://"+apiListener.Addr().String()+"/v1/counters/served/increments",
		"application/json", strings.NewReader(`{"field":"sec","value":2,"write_sync":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + metricsListener.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `counterd_http_requests_total{method="POST",route="/v1/counters/{name}/increments",status="200"} 1`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, ms.Shutdown(ctx))
	assert.NoError(t, <-apiErr)
	assert.NoError(t, <-metricsErr)
}
