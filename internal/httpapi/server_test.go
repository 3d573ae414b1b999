package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermesbot/hermes/internal/config"
	"github.com/hermesbot/hermes/internal/connection"
	"github.com/hermesbot/hermes/internal/plugin"
	"github.com/hermesbot/hermes/internal/sched"
	"github.com/hermesbot/hermes/internal/session"
	"github.com/hermesbot/hermes/internal/transport"
)

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(t *testing.T, store Pinger) *Server {
	t.Helper()
	cfg := &config.Config{BotName: "Hermes", Mode: config.ModePublic, Port: 3000, Prefix: "."}
	fake := transport.NewFakeClient()
	creds := session.NewStore(filepath.Join(t.TempDir(), "auth"))
	conn := connection.NewSupervisor(cfg, fake, creds)

	reg := plugin.NewRegistry(t.TempDir())
	require.NoError(t, reg.Load())

	return New(Deps{
		Config:    cfg,
		Conn:      conn,
		Registry:  reg,
		Sched:     sched.New(func() sched.Deps { return sched.Deps{} }),
		Store:     store,
		StartedAt: time.Now(),
	})
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "198.51.100.7:4455"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "GET", "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "1; mode=block", rec.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestSummaryAndBotInfo(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, "GET", "/")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Hermes", body["name"])
	assert.Equal(t, "public", body["mode"])

	rec = do(t, s, "GET", "/api/bot-info")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ".", body["prefix"])
}

func TestStoreHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "GET", "/api/mongodb-health")
	assert.Contains(t, rec.Body.String(), "unconfigured")

	s = newTestServer(t, &fakePinger{})
	rec = do(t, s, "GET", "/api/mongodb-health")
	assert.Equal(t, http.StatusOK, rec.Code)

	s = newTestServer(t, &fakePinger{err: assert.AnError})
	rec = do(t, s, "GET", "/api/mongodb-health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStoreTest(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "POST", "/api/test-mongodb")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s = newTestServer(t, &fakePinger{})
	rec = do(t, s, "POST", "/api/test-mongodb")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "latencyMs")
}

func TestConnectionStats(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "GET", "/api/connection-stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "initializing", body["state"])
	assert.EqualValues(t, 0, body["attempts"])
}

func TestPluginEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, "GET", "/plugins")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "GET", "/plugins/stats")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "POST", "/plugins/reload-all")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reloaded")
}

func TestForceGC(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "POST", "/api/force-gc")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "heapAfterMB")
}

func TestMetricsServed(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "GET", "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestShutdownReturns503(t *testing.T) {
	s := newTestServer(t, nil)
	s.shutdown.Store(true)

	rec := do(t, s, "GET", "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIPRateLimit(t *testing.T) {
	l := newIPLimiter(3, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, l.allow("10.0.0.1"))
	}
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"), "limit is per IP")

	// Fixed window: resets when the window elapses.
	now = now.Add(61 * time.Second)
	assert.True(t, l.allow("10.0.0.1"))
}

func TestRateLimitedResponse(t *testing.T) {
	s := newTestServer(t, nil)
	s.limiter.max = 1

	rec := do(t, s, "GET", "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, "GET", "/health")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}
