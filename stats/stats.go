// Package stats registers the Prometheus metrics shared by the
// packer, marker, router, retriever, and recovery manager (spec §6.3's
// /metrics endpoint), adapted from the teacher's stats registration
// style: one struct of pre-registered vectors, constructed once per
// process.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package stats

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Registry bundles every counter/gauge/histogram this system exposes.
// Components hold a reference and update the exported collectors
// directly (e.g. WithLabelValues(...).Inc()).
type Registry struct {
	reg *prometheus.Registry

	RetrieverRequests  *prometheus.CounterVec
	RetrieverLatency   *prometheus.HistogramVec
	RouterRequests     *prometheus.CounterVec
	RouterCircuitTrips *prometheus.CounterVec
	MarkerBatches      prometheus.Counter
	MarkerRowsMarked   prometheus.Counter
	MarkerDeadLettered prometheus.Counter
	PackerFilesPacked  *prometheus.CounterVec
	PackerUploadErrors *prometheus.CounterVec
	PackerLockConflicts *prometheus.CounterVec
	RecoverySweeps     *prometheus.CounterVec
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		RetrieverRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "des_retriever_requests_total",
			Help: "Retriever HTTP requests by route and status.",
		}, []string{"route", "status"}),
		RetrieverLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "des_retriever_request_duration_seconds",
			Help:    "Retriever request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		RouterRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "des_router_requests_total",
			Help: "Router proxied requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
		RouterCircuitTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "des_router_circuit_trips_total",
			Help: "Router circuit-breaker state transitions to unhealthy.",
		}, []string{"endpoint"}),
		MarkerBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "des_marker_batches_total",
			Help: "Marker iterations completed.",
		}),
		MarkerRowsMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "des_marker_rows_marked_total",
			Help: "Catalog rows transitioned to marked.",
		}),
		MarkerDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "des_marker_dead_lettered_total",
			Help: "Catalog rows moved to the dead-letter table.",
		}),
		PackerFilesPacked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "des_packer_files_packed_total",
			Help: "Files appended into a container, by shard.",
		}, []string{"shard"}),
		PackerUploadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "des_packer_upload_errors_total",
			Help: "Container upload failures, by shard.",
		}, []string{"shard"}),
		PackerLockConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "des_packer_lock_conflicts_total",
			Help: "Shard-lock acquire conflicts, by shard.",
		}, []string{"shard"}),
		RecoverySweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "des_recovery_sweeps_total",
			Help: "Recovery sweeps executed, by sweep name.",
		}, []string{"sweep"}),
	}
	reg.MustRegister(
		r.RetrieverRequests, r.RetrieverLatency, r.RouterRequests, r.RouterCircuitTrips,
		r.MarkerBatches, r.MarkerRowsMarked, r.MarkerDeadLettered,
		r.PackerFilesPacked, r.PackerUploadErrors, r.PackerLockConflicts, r.RecoverySweeps,
	)
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for an HTTP
// /metrics handler to render.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Render gathers every registered metric and encodes it in Prometheus
// text exposition format (§6.3 "GET /metrics -> Prometheus text"),
// usable from fasthttp handlers that can't take a net/http Handler
// the way promhttp.Handler expects.
func (r *Registry) Render() (body []byte, contentType string, err error) {
	mfs, err := r.reg.Gather()
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return nil, "", err
		}
	}
	return buf.Bytes(), string(expfmt.FmtText), nil
}
