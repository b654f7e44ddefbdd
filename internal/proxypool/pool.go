package proxypool

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/config"
)

// Status is the lifecycle state of one egress identity.
type Status string

const (
	StatusActive  Status = "active"
	StatusCooling Status = "cooling" // temporarily resting
	StatusBlocked Status = "blocked"
	StatusFailed  Status = "failed"
)

// failedRateThreshold marks an identity Failed once its success rate
// drops below this value.
const failedRateThreshold = 0.3

// Identity is one egress identity with health counters. Counters are
// monotonic until ResetAll.
type Identity struct {
	Address       string     `json:"address"`
	Country       string     `json:"country"`
	Status        Status     `json:"status"`
	SuccessCount  int        `json:"success_count"`
	FailCount     int        `json:"fail_count"`
	LastUsed      *time.Time `json:"last_used,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// SuccessRate is successes / attempts, optimistically 1.0 before any
// evidence so unused identities compete equally with proven ones.
func (p *Identity) SuccessRate() float64 {
	total := p.SuccessCount + p.FailCount
	if total == 0 {
		return 1.0
	}
	return float64(p.SuccessCount) / float64(total)
}

func (p *Identity) available(now time.Time) bool {
	if p.Status == StatusBlocked || p.Status == StatusFailed {
		return false
	}
	if p.CooldownUntil != nil && now.Before(*p.CooldownUntil) {
		return false
	}
	return true
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Enabled        bool    `json:"enabled"`
	Provider       string  `json:"provider"`
	TotalProxies   int     `json:"total_proxies"`
	Active         int     `json:"active"`
	Cooling        int     `json:"cooling"`
	Blocked        int     `json:"blocked"`
	Failed         int     `json:"failed"`
	RequestCount   int     `json:"request_count"`
	AvgSuccessRate float64 `json:"avg_success_rate"`
}

// Pool tracks egress identities and selects one per request cycle.
// All read-modify-write operations are serialized by a single mutex;
// contention is low and operations are brief.
type Pool struct {
	mu           sync.Mutex
	config       config.ProxyConfig
	proxies      []*Identity
	requestCount int
	rng          *rand.Rand
}

func NewPool(cfg config.ProxyConfig) *Pool {
	p := &Pool{
		config: cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, addr := range cfg.StaticPool {
		p.proxies = append(p.proxies, &Identity{
			Address: addr,
			Country: cfg.Country,
			Status:  StatusActive,
		})
	}
	return p
}

// IsEnabled reports whether the pool is configured for use.
func (p *Pool) IsEnabled() bool {
	return p.config.Enabled && (p.config.ServiceURL != "" || len(p.config.StaticPool) > 0)
}

// Add registers an identity in the static pool.
func (p *Pool) Add(address, country string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxies = append(p.proxies, &Identity{
		Address: address,
		Country: country,
		Status:  StatusActive,
	})
}

// SelectIdentity picks the next egress address, or "" when none is
// available. Callers must treat the empty result as "proceed without
// proxy" or "skip this cycle", never as fatal.
//
// With a templated provider and no static pool, a fresh session address
// is synthesized per call. Otherwise available identities are sorted by
// success rate and one is picked at random from the top three performers
// with rate >= 0.8, so rotation is biased toward reliability without
// being a fingerprintable round-robin.
func (p *Pool) SelectIdentity() string {
	if !p.IsEnabled() {
		return ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		if p.config.Provider != "" {
			sessionID := p.rng.Intn(9000000) + 1000000
			return BuildProviderURL(p.config, sessionID)
		}
		return p.config.ServiceURL
	}

	now := time.Now().UTC()
	available := make([]*Identity, 0, len(p.proxies))
	for _, proxy := range p.proxies {
		if proxy.available(now) {
			available = append(available, proxy)
		}
	}
	if len(available) == 0 {
		log.Warn("No available proxies")
		return ""
	}

	sort.SliceStable(available, func(i, j int) bool {
		return available[i].SuccessRate() > available[j].SuccessRate()
	})

	top := make([]*Identity, 0, 3)
	for _, proxy := range available {
		if proxy.SuccessRate() >= 0.8 {
			top = append(top, proxy)
		}
		if len(top) == 3 {
			break
		}
	}

	chosen := available[0]
	if len(top) > 0 {
		chosen = top[p.rng.Intn(len(top))]
	}

	used := now
	chosen.LastUsed = &used
	return chosen.Address
}

// ReportSuccess records a successful request through an identity and
// returns it to Active.
func (p *Pool) ReportSuccess(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requestCount++
	for _, proxy := range p.proxies {
		if proxy.Address == address {
			proxy.SuccessCount++
			proxy.Status = StatusActive
			proxy.CooldownUntil = nil
			return
		}
	}
}

// ReportFailure records a failed request. A block report is terminal
// until ResetAll; a plain failure puts the identity into cooldown, or
// marks it Failed once the success rate drops below the threshold.
func (p *Pool) ReportFailure(address string, blocked bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requestCount++
	for _, proxy := range p.proxies {
		if proxy.Address != address {
			continue
		}
		proxy.FailCount++

		switch {
		case blocked:
			proxy.Status = StatusBlocked
			log.Warnf("Proxy blocked: %s", truncate(address, 50))
		case proxy.SuccessRate() < failedRateThreshold:
			proxy.Status = StatusFailed
			log.Warnf("Proxy failed (success rate %.2f): %s", proxy.SuccessRate(), truncate(address, 50))
		default:
			proxy.Status = StatusCooling
			until := time.Now().UTC().Add(time.Duration(p.config.CooldownSeconds) * time.Second)
			proxy.CooldownUntil = &until
		}
		return
	}
}

// ResetAll returns every identity to Active with zero counters. This is
// an operator action, not automatic recovery.
func (p *Pool) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, proxy := range p.proxies {
		proxy.Status = StatusActive
		proxy.CooldownUntil = nil
		proxy.SuccessCount = 0
		proxy.FailCount = 0
	}
	log.Infof("Proxy pool reset: %d identities back to active", len(p.proxies))
}

// Stats returns pool statistics for operational visibility.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{
		Enabled:      p.IsEnabled(),
		Provider:     p.config.Provider,
		TotalProxies: len(p.proxies),
		RequestCount: p.requestCount,
	}

	if len(p.proxies) == 0 {
		return stats
	}

	var rateSum float64
	for _, proxy := range p.proxies {
		rateSum += proxy.SuccessRate()
		switch proxy.Status {
		case StatusActive:
			stats.Active++
		case StatusCooling:
			stats.Cooling++
		case StatusBlocked:
			stats.Blocked++
		case StatusFailed:
			stats.Failed++
		}
	}
	stats.AvgSuccessRate = rateSum / float64(len(p.proxies))
	return stats
}

// Identities returns a copy of the pool for inspection.
func (p *Pool) Identities() []Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Identity, len(p.proxies))
	for i, proxy := range p.proxies {
		out[i] = *proxy
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
