package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Issuance
	TokensIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tokens_issued_total",
			Help: "Tokens minted and persisted",
		},
	)

	// Redemption
	RedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redemptions_total",
			Help: "Redemption attempts by outcome",
		},
		[]string{"outcome"}, // success|duplicate|<error code>
	)
	RedemptionForgery = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "redemption_forgery_total",
			Help: "Redemptions rejected as forged",
		},
	)
	RedemptionRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "redemption_retries_total",
			Help: "Redemption transactions replayed after a conflict",
		},
	)
	RedemptionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "redemption_duration_seconds",
			Help:    "End-to-end redemption latency including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Worker queue
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

var Handler = promhttp.Handler

var once sync.Once

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(RequestsTotal)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(TokensIssued)
		prometheus.MustRegister(RedemptionsTotal)
		prometheus.MustRegister(RedemptionForgery)
		prometheus.MustRegister(RedemptionRetries)
		prometheus.MustRegister(RedemptionDuration)
		prometheus.MustRegister(WorkerQueueDepth)
	})
}
