package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	// Scheduler metrics
	ticksTotal       prometheus.Counter
	sourceRuns       *prometheus.CounterVec
	sourceDuration   *prometheus.HistogramVec
	listingsObserved prometheus.Counter
	schedulerErrors  prometheus.Counter

	// Pipeline metrics
	listingsFiltered *prometheus.CounterVec
	dealsAccepted    prometheus.Counter
	dealScore        prometheus.Histogram

	// Proxy pool metrics
	proxiesActive  prometheus.Gauge
	proxiesBlocked prometheus.Gauge

	// API metrics
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

// NewCollector registers all metrics on the given registerer so tests
// can use an isolated registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		ticksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_ticks_total",
				Help:      "Total number of scheduler ticks run",
			},
		),
		sourceRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_runs_total",
				Help:      "Total number of source runs",
			},
			[]string{"venue", "result"},
		),
		sourceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_run_duration_seconds",
				Help:      "Source run duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"venue"},
		),
		listingsObserved: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "listings_observed_total",
				Help:      "Total number of raw listings observed",
			},
		),
		schedulerErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_errors_total",
				Help:      "Total number of source and handler errors",
			},
		),
		listingsFiltered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "listings_filtered_total",
				Help:      "Total number of listings rejected, by stage",
			},
			[]string{"stage"},
		),
		dealsAccepted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deals_accepted_total",
				Help:      "Total number of accepted deals",
			},
		),
		dealScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deal_score_percent",
				Help:      "Deal score of accepted deals in percent",
				Buckets:   []float64{15, 20, 25, 30, 40, 50, 75, 100},
			},
		),
		proxiesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "proxies_active",
				Help:      "Current number of active proxy identities",
			},
		),
		proxiesBlocked: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "proxies_blocked",
				Help:      "Current number of blocked proxy identities",
			},
		),
		apiRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}

	return c
}

func (c *Collector) RecordTick() {
	c.ticksTotal.Inc()
}

func (c *Collector) RecordSourceRun(venue string, success bool, seconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.sourceRuns.WithLabelValues(venue, result).Inc()
	c.sourceDuration.WithLabelValues(venue).Observe(seconds)
}

func (c *Collector) RecordListingsObserved(count int) {
	c.listingsObserved.Add(float64(count))
}

func (c *Collector) RecordSchedulerError() {
	c.schedulerErrors.Inc()
}

func (c *Collector) RecordFiltered(stage string, count int) {
	c.listingsFiltered.WithLabelValues(stage).Add(float64(count))
}

func (c *Collector) RecordDealAccepted(score float64) {
	c.dealsAccepted.Inc()
	c.dealScore.Observe(score)
}

func (c *Collector) SetProxyGauges(active, blocked int) {
	c.proxiesActive.Set(float64(active))
	c.proxiesBlocked.Set(float64(blocked))
}

func (c *Collector) RecordAPIRequest(method, endpoint, status string) {
	c.apiRequests.WithLabelValues(method, endpoint, status).Inc()
}

func (c *Collector) RecordAPIDuration(method, endpoint string, seconds float64) {
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
