// Package metrics registers the process's Prometheus collectors. All
// counters live on the default registry and are served by the /metrics
// handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts served requests by route pattern and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geosyncsrv_http_requests_total",
		Help: "Served HTTP requests.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geosyncsrv_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// Tasks counts background task completions by action and final state.
	Tasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geosyncsrv_tasks_total",
		Help: "Background task completions.",
	}, []string{"action", "state"})

	// HarvestRecords counts harvested records by source kind and outcome.
	HarvestRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geosyncsrv_harvest_records_total",
		Help: "Harvested records by outcome.",
	}, []string{"kind", "outcome"})

	// IngestedLayers counts layers materialized by the ingestion pipeline.
	IngestedLayers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geosyncsrv_ingested_layers_total",
		Help: "Layers materialized from uploaded archives.",
	}, []string{"type"})

	// RemoteErrors counts outbound failures by remote service name.
	RemoteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geosyncsrv_remote_errors_total",
		Help: "Outbound request failures.",
	}, []string{"service"})
)
