/*
Copyright 2024 The KEDA Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metricscollector exposes the engine's Prometheus metrics: query
// observation counts, tracked profiles, sampling latency, recommended index
// counts, reconciliation outcomes and synchronization errors.
package metricscollector

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPromMetricsNamespace is the prefix of every metric this package
// registers.
const DefaultPromMetricsNamespace = "indexadvisor"

var (
	queriesObserved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: DefaultPromMetricsNamespace,
			Subsystem: "queryset",
			Name:      "queries_observed_total",
			Help:      "The total number of profiled queries decomposed into query profiles.",
		},
		[]string{"namespace"},
	)
	profilesTracked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: DefaultPromMetricsNamespace,
			Subsystem: "queryset",
			Name:      "profiles_tracked",
			Help:      "The number of distinct query profiles currently tracked.",
		},
		[]string{},
	)
	sampleLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: DefaultPromMetricsNamespace,
			Subsystem: "sampler",
			Name:      "sample_duration_seconds",
			Help:      "The wall-clock duration of one sampling session, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"namespace", "kind"},
	)
	recommendedIndexes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: DefaultPromMetricsNamespace,
			Subsystem: "recommendation",
			Name:      "indexes",
			Help:      "The number of indexes in the most recent recommended set, per collection.",
		},
		[]string{"namespace"},
	)
	reconcileActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: DefaultPromMetricsNamespace,
			Subsystem: "reconcile",
			Name:      "actions_total",
			Help:      "The total number of reconciliation actions computed, by action.",
		},
		[]string{"namespace", "action"},
	)
	synchronizationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: DefaultPromMetricsNamespace,
			Subsystem: "engine",
			Name:      "synchronization_errors_total",
			Help:      "The total number of synchronization cycles that failed.",
		},
		[]string{},
	)
)

// PromMetrics is the engine-facing recording surface. A single instance is
// shared by the engine, sampler and reconciler wiring.
type PromMetrics struct {
	registry *prometheus.Registry
}

// NewPromMetrics registers every metric on a fresh registry.
func NewPromMetrics() *PromMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		queriesObserved,
		profilesTracked,
		sampleLatency,
		recommendedIndexes,
		reconcileActions,
		synchronizationErrors,
	)
	return &PromMetrics{registry: registry}
}

// Handler returns the scrape endpoint handler for the registry.
func (p *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PromMetrics) RecordQueryObserved(namespace string) {
	queriesObserved.WithLabelValues(namespace).Inc()
}

func (p *PromMetrics) RecordProfilesTracked(count int) {
	profilesTracked.WithLabelValues().Set(float64(count))
}

func (p *PromMetrics) RecordSampleLatency(namespace, kind string, value time.Duration) {
	sampleLatency.WithLabelValues(namespace, kind).Observe(value.Seconds())
}

func (p *PromMetrics) RecordRecommendedIndexes(namespace string, count int) {
	recommendedIndexes.WithLabelValues(namespace).Set(float64(count))
}

func (p *PromMetrics) RecordReconcileAction(namespace, action string, count int) {
	reconcileActions.WithLabelValues(namespace, action).Add(float64(count))
}

func (p *PromMetrics) RecordSynchronizationError() {
	synchronizationErrors.WithLabelValues().Inc()
}
