// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_api_request_duration_seconds",
			Help:    "Total time taken for chat requests in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120, 180, 300, 600},
		},
		[]string{"model", "mode"},
	)

	TimeToFirstByte = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_api_time_to_first_byte_seconds",
			Help:    "Time until the first upstream byte reached the client",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
		},
		[]string{"model", "mode"},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_api_request_count_total",
			Help: "Total number of chat requests processed",
		},
		[]string{"mode", "status"},
	)

	QuotaRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nexus_api_quota_rejections_total",
			Help: "Requests rejected because the caller exhausted their credits",
		},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_api_upstream_errors_total",
			Help: "Upstream failures by status code",
		},
		[]string{"status_code"},
	)

	IdentityFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_api_identity_fallbacks_total",
			Help: "Bearer tokens that could not be verified and fell back to a pseudo identity",
		},
		[]string{"reason"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_api_store_errors_total",
			Help: "Credits store failures that were failed open",
		},
		[]string{"op"},
	)

	DebitedCents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nexus_api_debited_cents_total",
			Help: "Total estimated cents debited from callers",
		},
	)

	DemuxEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_api_demux_events_total",
			Help: "Tutor stream events emitted per channel",
		},
		[]string{"channel"},
	)

	InflightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexus_api_inflight_requests",
			Help: "Current in-flight http requests",
		},
	)

	CanceledRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_api_canceled_requests_total",
			Help: "Streams stopped because the client went away",
		},
		[]string{"mode"},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_api_error_count",
			Help: "Error count",
		},
		[]string{"mode", "from"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_api_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
