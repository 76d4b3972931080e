// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventkiosk/cardforge/internal/config"
)

type mockChecker struct {
	name   string
	status Status
	err    string
}

func (c *mockChecker) Name() string { return c.name }

func (c *mockChecker) Check(_ context.Context) CheckResult {
	return CheckResult{Status: c.status, Error: c.err}
}

func TestNewManager(t *testing.T) {
	m := NewManager("cardforge", "v1.2.3")
	assert.NotNil(t, m)
	assert.Equal(t, "cardforge", m.service)
	assert.Equal(t, "v1.2.3", m.version)
	assert.Empty(t, m.checkers)
}

func TestManager_Health_NoCheckers(t *testing.T) {
	m := NewManager("cardforge", "v1.0.0")

	resp := m.Health(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "cardforge", resp.Service)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Nil(t, resp.Checks)
}

func TestManager_Health_WithCheckers(t *testing.T) {
	m := NewManager("cardforge", "v1.0.0")
	m.RegisterChecker(&mockChecker{name: "jobstore", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "queue", status: StatusDegraded})

	resp := m.Health(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
	assert.Equal(t, StatusHealthy, resp.Checks["jobstore"].Status)
	assert.Equal(t, StatusDegraded, resp.Checks["queue"].Status)
}

func TestManager_Health_Unhealthy(t *testing.T) {
	m := NewManager("cardforge", "v1.0.0")
	m.RegisterChecker(&mockChecker{name: "objstore", status: StatusUnhealthy, err: "connection refused"})

	resp := m.Health(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Len(t, resp.Checks, 1)
}

func TestManager_Ready_NoCheckers(t *testing.T) {
	m := NewManager("cardforge", "v1.0.0")

	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestManager_Ready_UnhealthyComponent(t *testing.T) {
	m := NewManager("cardforge", "v1.0.0")
	m.RegisterChecker(&mockChecker{name: "jobstore", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "queue", status: StatusUnhealthy, err: "dial tcp: timeout"})

	resp := m.Ready(context.Background())
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "dial tcp: timeout", resp.Checks["queue"].Error)
}

func TestManager_Ready_DegradedStillReady(t *testing.T) {
	m := NewManager("cardforge", "v1.0.0")
	m.RegisterChecker(&mockChecker{name: "queue", status: StatusDegraded})

	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestServeHealth(t *testing.T) {
	m := NewManager("cardforge", "v2.0.0")
	m.RegisterChecker(&mockChecker{name: "jobstore", status: StatusHealthy})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	m.ServeHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "cardforge", resp.Service)
	assert.Equal(t, "v2.0.0", resp.Version)
	assert.Contains(t, resp.Checks, "jobstore")
}

func TestServeHealth_AlwaysOK(t *testing.T) {
	// Liveness never fails on component status; only a dead process fails it.
	m := NewManager("cardforge", "v2.0.0")
	m.RegisterChecker(&mockChecker{name: "queue", status: StatusUnhealthy, err: "down"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	m.ServeHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestServeReady(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		wantCode int
	}{
		{name: "ready", status: StatusHealthy, wantCode: http.StatusOK},
		{name: "degraded is ready", status: StatusDegraded, wantCode: http.StatusOK},
		{name: "unhealthy is not ready", status: StatusUnhealthy, wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("cardforge", "v2.0.0")
			m.RegisterChecker(&mockChecker{name: "component", status: tt.status})

			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			rec := httptest.NewRecorder()
			m.ServeReady(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestPingChecker(t *testing.T) {
	ok := NewPingChecker("queue", func(ctx context.Context) error { return nil })
	res := ok.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, "reachable", res.Message)
	assert.Equal(t, "queue", ok.Name())

	bad := NewPingChecker("objstore", func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	res = bad.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "connection refused", res.Error)
}

func TestPingChecker_Timeout(t *testing.T) {
	c := NewPingChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c.timeout = 20 * time.Millisecond

	res := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
}

func TestPerformStartupChecks(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.StoreBackend = config.BackendBadger
	cfg.Listen = ":8080"
	cfg.MetricsAddr = "127.0.0.1:9090"

	err := PerformStartupChecks(context.Background(), cfg)
	require.NoError(t, err)
}

func TestPerformStartupChecks_BadListen(t *testing.T) {
	cfg := config.Defaults()
	cfg.StoreBackend = config.BackendMemory
	cfg.Listen = "no-port-here"

	err := PerformStartupChecks(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}

func TestPerformStartupChecks_CreatesDataDir(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir() + "/nested/data"
	cfg.StoreBackend = config.BackendBadger

	err := PerformStartupChecks(context.Background(), cfg)
	require.NoError(t, err)

	info, statErr := os.Stat(cfg.DataDir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}
