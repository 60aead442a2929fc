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

func TestOverallStatus(t *testing.T) {
	c := NewChecker()
	assert.Equal(t, StatusHealthy, c.OverallStatus())

	c.RegisterFunc("store", true, PingCheck("database", func(context.Context) error { return nil }))
	assert.Equal(t, StatusUnknown, c.OverallStatus(), "critical component not yet checked")

	c.Check(context.Background())
	assert.Equal(t, StatusHealthy, c.OverallStatus())

	c.RegisterFunc("queue", false, func(context.Context) CheckResult {
		return CheckResult{Status: StatusUnhealthy}
	})
	c.Check(context.Background())
	assert.Equal(t, StatusDegraded, c.OverallStatus(), "non-critical failure only degrades")

	c.RegisterFunc("store", true, PingCheck("database", func(context.Context) error {
		return errors.New("database is locked")
	}))
	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, c.OverallStatus())
	assert.Equal(t, "database is locked", results["store"].Error)
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})
	c.RegisterFunc("broken", false, func(context.Context) CheckResult {
		panic("boom")
	})

	results := c.Check(context.Background())
	assert.Equal(t, "check timed out", results["slow"].Message)
	assert.Equal(t, StatusUnhealthy, results["broken"].Status)
	assert.Equal(t, "boom", results["broken"].Error)
	assert.Equal(t, results, c.Results())
}

func TestCounterCheck(t *testing.T) {
	var n uint64
	check := CounterCheck("dropped", func() uint64 { return n })
	ctx := context.Background()

	assert.Equal(t, StatusHealthy, check(ctx).Status)
	n = 3
	r := check(ctx)
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, uint64(3), r.Details["dropped"])
	assert.Equal(t, StatusHealthy, check(ctx).Status, "flat counter recovers")
}

func TestHandlers(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("store", true, PingCheck("database", func(context.Context) error { return nil }))
	routes := c.Routes()

	rec := httptest.NewRecorder()
	routes["/readyz"].ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c.SetReady(true)
	rec = httptest.NewRecorder()
	routes["/readyz"].ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	routes["/healthz"].ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.True(t, resp.Ready)
	assert.Contains(t, resp.Components, "store")
}
