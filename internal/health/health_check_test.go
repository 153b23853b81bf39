package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func healthy(context.Context) error { return nil }

func TestLivenessHandler(t *testing.T) {
	hc := NewHealthChecker(nil, zap.NewNop())
	rec := httptest.NewRecorder()
	hc.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "alive", status.Status)
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		deps     map[string]Pinger
		draining bool
		wantCode int
		want     map[string]string
	}{
		{
			name:     "all dependencies healthy",
			deps:     map[string]Pinger{"counter_store": pingFunc(healthy), "idempotency_store": pingFunc(healthy)},
			wantCode: http.StatusOK,
			want:     map[string]string{"counter_store": "healthy", "idempotency_store": "healthy"},
		},
		{
			name: "store unreachable",
			deps: map[string]Pinger{
				"counter_store": pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
			},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"counter_store": "unhealthy: dial tcp: refused"},
		},
		{
			name:     "nil dependency skipped",
			deps:     map[string]Pinger{"counter_store": pingFunc(healthy), "idempotency_store": nil},
			wantCode: http.StatusOK,
			want:     map[string]string{"counter_store": "healthy"},
		},
		{
			name:     "draining",
			deps:     map[string]Pinger{"counter_store": pingFunc(healthy)},
			draining: true,
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"counter_store": "healthy", "service": "draining"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker(tt.deps, zap.NewNop())
			if tt.draining {
				hc.SetDraining()
			}

			rec := httptest.NewRecorder()
			hc.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var status HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
			assert.Equal(t, tt.want, status.Checks)
		})
	}
}
