// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics exposes prometheus instrumentation for the data
// query engine: cache effectiveness, upstream fetch outcomes and the
// cache entry count.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's collectors. Construct with New; a Metrics
// built with a nil registerer still works (collectors stay
// unregistered), which keeps tests independent of global state.
type Metrics struct {
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheEntries prometheus.Gauge

	FetchAttempts *prometheus.CounterVec
	FetchFailures *prometheus.CounterVec
}

// New builds the collector set and registers it when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataquery",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Number of cache lookups answered by a live entry.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataquery",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Number of cache lookups that fell through to a live fetch.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dataquery",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries currently persisted, including expired ones awaiting reclamation.",
		}),
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataquery",
			Subsystem: "connector",
			Name:      "fetch_attempts_total",
			Help:      "Upstream fetch attempts, including retries.",
		}, []string{"source_id"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataquery",
			Subsystem: "connector",
			Name:      "fetch_failures_total",
			Help:      "Upstream fetches that failed after exhausting the retry budget.",
		}, []string{"source_id"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CacheHits, m.CacheMisses, m.CacheEntries,
			m.FetchAttempts, m.FetchFailures,
		)
	}
	return m
}
