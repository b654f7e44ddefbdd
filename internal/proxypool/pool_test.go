package proxypool

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/config"
)

func staticConfig(addrs ...string) config.ProxyConfig {
	return config.ProxyConfig{
		Enabled:         true,
		Country:         "GB",
		CooldownSeconds: 30,
		StaticPool:      addrs,
	}
}

func TestDisabledPoolSelectsNothing(t *testing.T) {
	p := NewPool(config.ProxyConfig{Enabled: false})
	assert.False(t, p.IsEnabled())
	assert.Equal(t, "", p.SelectIdentity())
}

func TestSelectFromStaticPool(t *testing.T) {
	p := NewPool(staticConfig("proxy-a:8080", "proxy-b:8080"))
	require.True(t, p.IsEnabled())

	addr := p.SelectIdentity()
	assert.Contains(t, []string{"proxy-a:8080", "proxy-b:8080"}, addr)
}

func TestSuccessRateOptimisticDefault(t *testing.T) {
	id := Identity{}
	assert.Equal(t, 1.0, id.SuccessRate())

	id.SuccessCount = 3
	id.FailCount = 1
	assert.InDelta(t, 0.75, id.SuccessRate(), 0.001)
}

func TestBlockedProxyNeverSelected(t *testing.T) {
	p := NewPool(staticConfig("proxy-a:8080"))

	p.ReportFailure("proxy-a:8080", true)
	assert.Equal(t, "", p.SelectIdentity())

	stats := p.Stats()
	assert.Equal(t, 1, stats.Blocked)
	assert.Equal(t, 0, stats.Active)
}

func TestResetAllRestoresBlocked(t *testing.T) {
	p := NewPool(staticConfig("proxy-a:8080"))

	p.ReportFailure("proxy-a:8080", true)
	require.Equal(t, "", p.SelectIdentity())

	p.ResetAll()
	assert.Equal(t, "proxy-a:8080", p.SelectIdentity())

	ids := p.Identities()
	require.Len(t, ids, 1)
	assert.Equal(t, 0, ids[0].FailCount)
	assert.Equal(t, StatusActive, ids[0].Status)
}

func TestPlainFailurePutsProxyInCooldown(t *testing.T) {
	p := NewPool(staticConfig("proxy-a:8080"))

	// Build up history so the success rate stays above the failure
	// threshold after one miss.
	p.ReportSuccess("proxy-a:8080")
	p.ReportSuccess("proxy-a:8080")
	p.ReportFailure("proxy-a:8080", false)

	ids := p.Identities()
	require.Len(t, ids, 1)
	assert.Equal(t, StatusCooling, ids[0].Status)
	require.NotNil(t, ids[0].CooldownUntil)

	// Cooling proxies are unavailable until the cooldown expires.
	assert.Equal(t, "", p.SelectIdentity())
}

func TestRepeatedFailuresMarkProxyFailed(t *testing.T) {
	p := NewPool(staticConfig("proxy-a:8080"))

	p.ReportFailure("proxy-a:8080", false)

	ids := p.Identities()
	require.Len(t, ids, 1)
	assert.Equal(t, StatusFailed, ids[0].Status)
	assert.Equal(t, "", p.SelectIdentity())
}

func TestSuccessReturnsProxyToActive(t *testing.T) {
	p := NewPool(staticConfig("proxy-a:8080"))

	p.ReportSuccess("proxy-a:8080")
	p.ReportSuccess("proxy-a:8080")
	p.ReportFailure("proxy-a:8080", false)
	p.ReportSuccess("proxy-a:8080")

	ids := p.Identities()
	assert.Equal(t, StatusActive, ids[0].Status)
	assert.Nil(t, ids[0].CooldownUntil)
	assert.Equal(t, "proxy-a:8080", p.SelectIdentity())
}

func TestSelectionPrefersReliableProxies(t *testing.T) {
	p := NewPool(staticConfig("reliable:8080", "flaky:8080"))

	// flaky ends active but with a success rate below the 0.8 selection
	// cutoff, so it never competes with the clean identity.
	p.ReportSuccess("flaky:8080")
	p.ReportFailure("flaky:8080", false)
	p.ReportSuccess("flaky:8080")

	for i := 0; i < 20; i++ {
		assert.Equal(t, "reliable:8080", p.SelectIdentity())
	}
}

func TestTemplatedProviderSynthesizesSession(t *testing.T) {
	p := NewPool(config.ProxyConfig{
		Enabled:    true,
		Provider:   "brightdata",
		ServiceURL: "brd.superproxy.io",
		APIKey:     "cust123",
		Password:   "secret",
		Country:    "GB",
	})

	addr := p.SelectIdentity()
	assert.True(t, strings.HasPrefix(addr, "http://brd-customer-cust123"))
	assert.Contains(t, addr, "-session-")
	assert.Contains(t, addr, "-country-GB")
}

func TestStats(t *testing.T) {
	p := NewPool(staticConfig("a:1", "b:2", "c:3"))

	p.ReportSuccess("a:1")
	p.ReportFailure("b:2", true)
	p.ReportFailure("c:3", false)

	stats := p.Stats()
	assert.Equal(t, 3, stats.TotalProxies)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Blocked)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 3, stats.RequestCount)
}
