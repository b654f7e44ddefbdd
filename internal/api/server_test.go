package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/config"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/listing"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/metrics"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/pipeline"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/proxypool"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/scheduler"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/storage"
)

type stubSource struct{}

func (stubSource) Name() string       { return "ebay" }
func (stubSource) IsConfigured() bool { return true }
func (stubSource) FetchListings(ctx context.Context) ([]listing.RawListing, error) {
	return nil, nil
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *Server {
	t.Helper()

	cfg := &config.Config{
		API:     config.APIConfig{Addr: ":0", RateLimitPerMinute: 600},
		Metrics: config.MetricsConfig{Enabled: false, Namespace: "test"},
		Logging: config.LoggingConfig{Level: "info"},
		Proxy:   config.ProxyConfig{Enabled: true, StaticPool: []string{"proxy-a:8080"}},
	}
	if mutate != nil {
		mutate(cfg)
	}

	store, err := storage.NewFileStore(t.TempDir() + "/deals.json")
	require.NoError(t, err)

	collector := metrics.NewCollector("test", prometheus.NewRegistry())
	sched := scheduler.New(nil, collector)
	require.NoError(t, sched.Register(scheduler.Task{
		Name:    "ebay",
		Enabled: true,
		Factory: func() (listing.Source, error) { return stubSource{}, nil },
	}))

	return NewServer(cfg, sched, store, proxypool.NewPool(cfg.Proxy), collector)
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestDealsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	_, err := s.store.SaveDeals([]pipeline.Deal{
		{Listing: listing.RawListing{ExternalID: "1", Venue: "ebay", Title: "Charizard", Price: 50, FoundAt: time.Now().UTC()}},
	})
	require.NoError(t, err)

	rec := doRequest(s, http.MethodGet, "/api/deals")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int             `json:"count"`
		Deals []pipeline.Deal `json:"deals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Deals, 1)
	assert.Equal(t, "ebay|1", body.Deals[0].Listing.Key())
}

func TestDealsEndpointInvalidLimit(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, doRequest(s, http.MethodGet, "/api/deals?limit=abc").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(s, http.MethodGet, "/api/deals?limit=0").Code)
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(s, http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "scheduler")
	assert.Contains(t, body, "proxy")
}

func TestTaskControls(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(s, http.MethodPost, "/api/scheduler/tasks/ebay/disable")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.scheduler.Stats().Tasks["ebay"].Enabled)

	rec = doRequest(s, http.MethodPost, "/api/scheduler/tasks/ebay/enable")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.scheduler.Stats().Tasks["ebay"].Enabled)

	rec = doRequest(s, http.MethodPut, "/api/scheduler/tasks/ebay/interval?seconds=120")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 120, s.scheduler.Stats().Tasks["ebay"].IntervalSec)

	rec = doRequest(s, http.MethodPut, "/api/scheduler/tasks/ebay/interval?seconds=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchedulerRunTrigger(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(s, http.MethodPost, "/api/scheduler/run")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return s.scheduler.Stats().TotalTicks >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProxyEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	s.pool.ReportFailure("proxy-a:8080", true)

	rec := doRequest(s, http.MethodGet, "/api/proxies/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats proxypool.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Blocked)

	rec = doRequest(s, http.MethodPost, "/api/proxies/reset")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, s.pool.Stats().Active)
}

func TestProxyProbeEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	// The static pool entry is unreachable, so the probe marks it failed.
	rec := doRequest(s, http.MethodPost, "/api/proxies/probe")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Probed  int             `json:"probed"`
		Results map[string]bool `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Probed)
	assert.False(t, body.Results["proxy-a:8080"])
	assert.Equal(t, 1, s.pool.Stats().Failed)
}

func TestAPIKeyAuth(t *testing.T) {
	t.Setenv("DEALSCOUT_API_KEY", "sekret")

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.API.EnableAPIKeyAuth = true
		cfg.API.APIKeyEnv = "DEALSCOUT_API_KEY"
	})

	// Health stays open.
	assert.Equal(t, http.StatusOK, doRequest(s, http.MethodGet, "/health").Code)

	assert.Equal(t, http.StatusUnauthorized, doRequest(s, http.MethodGet, "/api/stats").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("X-Api-Key", "sekret")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Key via query parameter also works.
	assert.Equal(t, http.StatusOK, doRequest(s, http.MethodGet, "/api/stats?key=sekret").Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.API.EnableIPRateLimit = true
		cfg.API.RateLimitPerMinute = 10
	})

	var limited bool
	for i := 0; i < 20; i++ {
		if doRequest(s, http.MethodGet, "/api/stats").Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}

func TestMetricsEndpointWhenEnabled(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Endpoint = "/metrics"
	})

	assert.Equal(t, http.StatusOK, doRequest(s, http.MethodGet, "/metrics").Code)
}
