package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourceAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solaretp_source_api_calls_total",
			Help: "Total calls to external data sources",
		},
		[]string{"source", "endpoint", "status"},
	)

	SourceAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solaretp_source_api_latency_seconds",
			Help:    "External data source call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "endpoint"},
	)

	RecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solaretp_records_fetched_total",
			Help: "Total records parsed from external data sources",
		},
		[]string{"source"},
	)

	RadiationEstimates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solaretp_radiation_estimates_total",
			Help: "Radiation estimates by branch and outcome",
		},
		[]string{"branch", "outcome"},
	)

	ETPEstimates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solaretp_etp_estimates_total",
			Help: "Radiation and ETP requests by outcome",
		},
		[]string{"outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solaretp_http_request_duration_seconds",
			Help:    "API request latency by route and status code",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "code"},
	)
)
