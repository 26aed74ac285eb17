package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	RequestsGranted prometheus.Counter
	RequestsDenied  *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec

	CredentialsMinted  prometheus.Counter
	CredentialsSold    prometheus.Counter
	PurchasesFailed    *prometheus.CounterVec
	AvailableStock     prometheus.Gauge
	CredentialsUsed    prometheus.Counter
	ValidatorCacheHits prometheus.Counter

	LedgerLatency   prometheus.Histogram
	EndpointLatency *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		RequestsGranted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wxpass_requests_granted_total",
			Help: "Total number of weather requests served with a valid credential",
		}),
		RequestsDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wxpass_requests_denied_total",
			Help: "Total number of weather requests denied, labeled by reason",
		}, []string{"reason"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wxpass_provider_errors_total",
			Help: "Total number of weather provider failures, labeled by kind",
		}, []string{"kind"}),
		CredentialsMinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wxpass_credentials_minted_total",
			Help: "Total number of credentials minted",
		}),
		CredentialsSold: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wxpass_credentials_sold_total",
			Help: "Total number of credentials transferred to buyers",
		}),
		PurchasesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wxpass_purchases_failed_total",
			Help: "Total number of failed purchase attempts, labeled by reason",
		}, []string{"reason"}),
		AvailableStock: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wxpass_available_credentials",
			Help: "Current number of unowned, unexpired credentials",
		}),
		CredentialsUsed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wxpass_credential_uses_total",
			Help: "Total number of consumed credential uses",
		}),
		ValidatorCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wxpass_validator_cache_hits_total",
			Help: "Total number of access checks answered from cache",
		}),
		LedgerLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "wxpass_ledger_request_seconds",
			Help:    "Latency of ledger node requests in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		EndpointLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wxpass_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}
