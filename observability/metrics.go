// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the search service.
//
// # Description
//
// Counters cover request volume, turn outcomes by retrieval path, upstream
// errors, and best-effort bookkeeping failures. Bookkeeping writes (history
// append, metadata upsert, recency touch) never fail a request; the failure
// counter is the only place those losses become visible, so it must be
// watched.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "search_service"

// Metrics holds all Prometheus counters for the answering pipeline.
// Initialize once at startup via NewMetrics(). A nil *Metrics is valid and
// records nothing, which keeps tests free of registry setup.
type Metrics struct {
	// RequestsTotal counts API requests by endpoint and status.
	// Labels: endpoint (search, history, list, delete), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// TurnsTotal counts answered turns by retrieval path and outcome.
	// Labels: path (document, vector), outcome (answered, fallback)
	TurnsTotal *prometheus.CounterVec

	// UpstreamErrorsTotal counts failures of upstream dependencies.
	// Labels: upstream (llm, embedder, weaviate)
	UpstreamErrorsTotal *prometheus.CounterVec

	// BookkeepingFailuresTotal counts best-effort writes that were lost.
	// Labels: operation (append_turn, put_meta, recency_touch)
	BookkeepingFailuresTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all counters with the default registry.
// Call once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "API requests by endpoint and status.",
			},
			[]string{"endpoint", "status"},
		),
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "turns_total",
				Help:      "Answered turns by retrieval path and outcome.",
			},
			[]string{"path", "outcome"},
		),
		UpstreamErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "upstream_errors_total",
				Help:      "Upstream dependency failures.",
			},
			[]string{"upstream"},
		),
		BookkeepingFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "bookkeeping_failures_total",
				Help:      "Best-effort conversation bookkeeping writes that failed.",
			},
			[]string{"operation"},
		),
	}
}

// RecordRequest increments the request counter.
func (m *Metrics) RecordRequest(endpoint, status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordTurn increments the turn counter.
func (m *Metrics) RecordTurn(path, outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(path, outcome).Inc()
}

// RecordUpstreamError increments the upstream failure counter.
func (m *Metrics) RecordUpstreamError(upstream string) {
	if m == nil {
		return
	}
	m.UpstreamErrorsTotal.WithLabelValues(upstream).Inc()
}

// RecordBookkeepingFailure increments the lost-write counter.
func (m *Metrics) RecordBookkeepingFailure(operation string) {
	if m == nil {
		return
	}
	m.BookkeepingFailuresTotal.WithLabelValues(operation).Inc()
}
