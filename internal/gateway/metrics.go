package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presgen_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "presgen_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	slidesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presgen_slides_created_total",
		Help: "Slides created across all requests.",
	})

	datasetsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presgen_datasets_ingested_total",
		Help: "Datasets ingested via /data/upload.",
	})
)
